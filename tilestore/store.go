package tilestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/hupe1980/tilecache/blobstore"
	"github.com/hupe1980/tilecache/codec"
	"github.com/hupe1980/tilecache/internal/resource"
	"github.com/hupe1980/tilecache/model"
)

var (
	// ErrNotFound is returned when a tile is not stored.
	ErrNotFound = errors.New("tile not found")
	// ErrCorruptPage is returned when a stored page fails verification.
	ErrCorruptPage = errors.New("corrupt tile page")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("tile store closed")
)

// Tile is the content of one grid cell.
type Tile struct {
	ID       model.TileID
	Envelope model.Envelope
	Records  []model.Record
}

// Stats reports store accounting.
type Stats struct {
	Tiles        int   // tiles currently stored
	Bytes        int64 // bytes currently stored
	TilesWritten int64
	TilesRead    int64
	BytesWritten int64
	BytesRead    int64
}

// Store persists tile contents addressed by tile id.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns a stored tile or ErrNotFound.
	Get(ctx context.Context, id model.TileID) (Tile, error)
	// Put stores a tile, replacing any previous content.
	Put(ctx context.Context, t Tile) error
	// Remove deletes a tile. Removing a missing tile is not an error.
	Remove(ctx context.Context, id model.TileID) error
	// SizeOf returns the stored size of a tile in bytes (0 if absent).
	SizeOf(id model.TileID) int64
	// Clear removes every tile and resets accounting.
	Clear(ctx context.Context) error
	// Stats returns a snapshot of the accounting counters.
	Stats() Stats
	// Close releases resources.
	Close() error
}

// Kind enumerates the storage backends.
type Kind uint8

const (
	// KindMemory keeps tiles on the heap.
	KindMemory Kind = iota
	// KindBuffered keeps a bounded write-back buffer in front of a disk store.
	KindBuffered
	// KindDisk pages every tile to disk.
	KindDisk
	// KindBlob stores tiles as objects in a blob store.
	KindBlob
)

// String returns the backend name.
func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindBuffered:
		return "buffered"
	case KindDisk:
		return "disk"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Config selects and configures a backend.
type Config struct {
	Kind Kind

	// Path is the bbolt file for Disk and Buffered. A temporary file is used if empty.
	Path string
	// PageSize is the bbolt page size (0 = OS page size).
	PageSize int

	// BufferSize bounds the Buffered in-memory buffer in bytes. Defaults to 4 MiB.
	BufferSize int64
	// BufferMemoryBytes is a hard memory budget shared by buffer entries (0 = tracking only).
	BufferMemoryBytes int64
	// IOLimitBytesPerSec throttles buffer flushes to disk (0 = unlimited).
	IOLimitBytesPerSec int64

	// Compression of serialized pages.
	Compression Compression
	// Codec encodes records inside pages. Defaults to codec.Default.
	Codec codec.Codec

	// Blob is the object store for KindBlob.
	Blob blobstore.BlobStore
	// Prefix is prepended to blob names.
	Prefix string

	Logger *slog.Logger
}

const defaultBufferSize = 4 << 20

// Open creates the backend described by cfg.
func Open(cfg Config) (Store, error) {
	pc := PageCodec{Codec: cfg.Codec, Compression: cfg.Compression}
	if pc.Codec == nil {
		pc.Codec = codec.Default
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	switch cfg.Kind {
	case KindMemory:
		return NewMemory(), nil
	case KindDisk:
		return OpenDisk(cfg.Path, DiskOptions{PageSize: cfg.PageSize, Codec: pc})
	case KindBuffered:
		disk, err := OpenDisk(cfg.Path, DiskOptions{PageSize: cfg.PageSize, Codec: pc})
		if err != nil {
			return nil, err
		}
		bufSize := cfg.BufferSize
		if bufSize <= 0 {
			bufSize = defaultBufferSize
		}
		rc := resource.NewController(resource.Config{
			MemoryLimitBytes: cfg.BufferMemoryBytes,
			FlushBytesPerSec: cfg.IOLimitBytesPerSec,
		})
		return NewBuffered(disk, bufSize, rc, logger), nil
	case KindBlob:
		if cfg.Blob == nil {
			return nil, errors.New("tilestore: blob kind requires a blob store")
		}
		b := NewBlob(cfg.Blob, cfg.Prefix, pc)
		if err := b.Clear(context.Background()); err != nil {
			return nil, fmt.Errorf("tilestore: clear blob prefix: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("tilestore: unknown kind %s", cfg.Kind)
	}
}

// counters holds the cumulative IO accounting shared by all backends.
type counters struct {
	tilesWritten atomic.Int64
	tilesRead    atomic.Int64
	bytesWritten atomic.Int64
	bytesRead    atomic.Int64
}

func (c *counters) wrote(n int64) {
	c.tilesWritten.Add(1)
	c.bytesWritten.Add(n)
}

func (c *counters) read(n int64) {
	c.tilesRead.Add(1)
	c.bytesRead.Add(n)
}

func (c *counters) reset() {
	c.tilesWritten.Store(0)
	c.tilesRead.Store(0)
	c.bytesWritten.Store(0)
	c.bytesRead.Store(0)
}

func (c *counters) fill(s *Stats) {
	s.TilesWritten = c.tilesWritten.Load()
	s.TilesRead = c.tilesRead.Load()
	s.BytesWritten = c.bytesWritten.Load()
	s.BytesRead = c.bytesRead.Load()
}
