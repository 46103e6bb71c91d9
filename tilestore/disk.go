package tilestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hupe1980/tilecache/model"
	bolt "go.etcd.io/bbolt"
)

var tilesBucket = []byte("tiles")

// DiskOptions configures a Disk store.
type DiskOptions struct {
	// PageSize is the bbolt page size (0 = OS page size).
	PageSize int
	// Codec serializes tiles into pages.
	Codec PageCodec
}

// Disk pages every tile into a bbolt database. Contents are discarded on
// open; the file is scratch space, not a durable cache.
type Disk struct {
	db      *bolt.DB
	path    string
	tempDir string
	codec   PageCodec

	mu    sync.RWMutex
	sizes map[model.TileID]int64
	bytes int64
	counters
}

// OpenDisk opens (and truncates) a disk store at path. An empty path
// creates a temporary file that is removed on Close.
func OpenDisk(path string, opts DiskOptions) (*Disk, error) {
	var tempDir string
	if path == "" {
		dir, err := os.MkdirTemp("", "tilecache-*")
		if err != nil {
			return nil, fmt.Errorf("tilestore: create temp dir: %w", err)
		}
		tempDir = dir
		path = dir + string(os.PathSeparator) + "tiles.db"
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:  time.Second,
		PageSize: opts.PageSize,
		NoSync:   true,
	})
	if err != nil {
		if tempDir != "" {
			_ = os.RemoveAll(tempDir)
		}
		return nil, fmt.Errorf("tilestore: open %s: %w", path, err)
	}

	d := &Disk{
		db:      db,
		path:    path,
		tempDir: tempDir,
		codec:   opts.Codec,
		sizes:   make(map[model.TileID]int64),
	}
	if err := d.resetBucket(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Disk) resetBucket() error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(tilesBucket) != nil {
			if err := tx.DeleteBucket(tilesBucket); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket(tilesBucket)
		return err
	})
}

// Path returns the database file.
func (d *Disk) Path() string { return d.path }

func (d *Disk) Get(_ context.Context, id model.TileID) (Tile, error) {
	var page []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(tilesBucket).Get(id.Key())
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction.
		page = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return Tile{}, mapBoltErr(err)
	}
	d.read(int64(len(page)))
	return d.codec.Decode(page)
}

func (d *Disk) Put(_ context.Context, t Tile) error {
	page, err := d.codec.Encode(t)
	if err != nil {
		return err
	}
	return d.putPage(t.ID, page)
}

func (d *Disk) putPage(id model.TileID, page []byte) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tilesBucket).Put(id.Key(), page)
	})
	if err != nil {
		return mapBoltErr(err)
	}

	size := int64(len(page))
	d.mu.Lock()
	d.bytes += size - d.sizes[id]
	d.sizes[id] = size
	d.mu.Unlock()

	d.wrote(size)
	return nil
}

func (d *Disk) Remove(_ context.Context, id model.TileID) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tilesBucket).Delete(id.Key())
	})
	if err != nil {
		return mapBoltErr(err)
	}

	d.mu.Lock()
	d.bytes -= d.sizes[id]
	delete(d.sizes, id)
	d.mu.Unlock()
	return nil
}

func (d *Disk) SizeOf(id model.TileID) int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sizes[id]
}

func (d *Disk) Clear(_ context.Context) error {
	if err := d.resetBucket(); err != nil {
		return mapBoltErr(err)
	}
	d.mu.Lock()
	clear(d.sizes)
	d.bytes = 0
	d.mu.Unlock()
	d.reset()
	return nil
}

func (d *Disk) Stats() Stats {
	d.mu.RLock()
	s := Stats{Tiles: len(d.sizes), Bytes: d.bytes}
	d.mu.RUnlock()
	d.fill(&s)
	return s
}

func (d *Disk) Close() error {
	err := d.db.Close()
	if d.tempDir != "" {
		if rmErr := os.RemoveAll(d.tempDir); err == nil {
			err = rmErr
		}
	}
	return err
}

func mapBoltErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}
