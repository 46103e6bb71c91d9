package tilestore

import (
	"container/list"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/hupe1980/tilecache/internal/resource"
	"github.com/hupe1980/tilecache/model"
)

// Buffered keeps recently used tiles in a bounded in-memory buffer in front
// of a Disk store. Writes land in the buffer and are paged to disk when they
// fall off the LRU end (write-back). Tiles larger than the buffer, or denied
// by the memory budget, are written through.
type Buffered struct {
	disk     *Disk
	rc       *resource.Controller
	logger   *slog.Logger
	capacity int64

	mu        sync.Mutex
	items     map[model.TileID]*list.Element
	evictList *list.List
	size      int64
	counters
}

type bufEntry struct {
	tile  Tile
	size  int64
	dirty bool
}

// NewBuffered wraps disk with a write-back buffer of capacity bytes.
// rc may be nil.
func NewBuffered(disk *Disk, capacity int64, rc *resource.Controller, logger *slog.Logger) *Buffered {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Buffered{
		disk:      disk,
		rc:        rc,
		logger:    logger,
		capacity:  capacity,
		items:     make(map[model.TileID]*list.Element),
		evictList: list.New(),
	}
}

func (b *Buffered) Get(ctx context.Context, id model.TileID) (Tile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ent, ok := b.items[id]; ok {
		b.evictList.MoveToFront(ent)
		e := ent.Value.(*bufEntry)
		b.read(e.size)
		return cloneTile(e.tile), nil
	}

	t, err := b.disk.Get(ctx, id)
	if err != nil {
		return Tile{}, err
	}
	size := TileSize(t)
	b.read(size)
	if err := b.insert(ctx, t, size, false); err != nil {
		b.logger.Warn("buffer promotion failed", "tile", id.String(), "error", err)
	}
	return cloneTile(t), nil
}

func (b *Buffered) Put(ctx context.Context, t Tile) error {
	t = cloneTile(t)
	size := TileSize(t)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.drop(t.ID)
	b.wrote(size)
	return b.insert(ctx, t, size, true)
}

// insert adds an entry and pages out the LRU tail until the buffer fits.
// Callers hold b.mu.
func (b *Buffered) insert(ctx context.Context, t Tile, size int64, dirty bool) error {
	if size > b.capacity {
		if dirty {
			return b.disk.Put(ctx, t)
		}
		return nil
	}
	for b.size+size > b.capacity && b.evictList.Len() > 0 {
		if err := b.pageOut(ctx, b.evictList.Back()); err != nil {
			return err
		}
	}

	if err := b.rc.AcquireMemory(size); err != nil {
		if dirty {
			return b.disk.Put(ctx, t)
		}
		return nil
	}

	b.items[t.ID] = b.evictList.PushFront(&bufEntry{tile: t, size: size, dirty: dirty})
	b.size += size
	return nil
}

// pageOut writes a dirty entry to disk and drops it from the buffer.
// On error the entry stays buffered.
func (b *Buffered) pageOut(ctx context.Context, ent *list.Element) error {
	e := ent.Value.(*bufEntry)
	if e.dirty {
		page, err := b.disk.codec.Encode(e.tile)
		if err != nil {
			return err
		}
		if err := b.rc.WaitFlush(ctx, len(page)); err != nil {
			return err
		}
		if err := b.disk.putPage(e.tile.ID, page); err != nil {
			return err
		}
	}
	b.removeElement(ent)
	return nil
}

func (b *Buffered) drop(id model.TileID) {
	if ent, ok := b.items[id]; ok {
		b.removeElement(ent)
	}
}

func (b *Buffered) removeElement(ent *list.Element) {
	b.evictList.Remove(ent)
	e := ent.Value.(*bufEntry)
	delete(b.items, e.tile.ID)
	b.size -= e.size
	b.rc.ReleaseMemory(e.size)
}

func (b *Buffered) Remove(ctx context.Context, id model.TileID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.disk.Remove(ctx, id); err != nil {
		return err
	}
	b.drop(id)
	return nil
}

// SizeOf returns the buffered size if the tile is held in memory, the page
// size otherwise.
func (b *Buffered) SizeOf(id model.TileID) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ent, ok := b.items[id]; ok {
		return ent.Value.(*bufEntry).size
	}
	return b.disk.SizeOf(id)
}

// Flush pages every dirty entry to disk. Entries stay buffered.
func (b *Buffered) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ent := b.evictList.Back(); ent != nil; ent = ent.Prev() {
		e := ent.Value.(*bufEntry)
		if !e.dirty {
			continue
		}
		page, err := b.disk.codec.Encode(e.tile)
		if err != nil {
			return err
		}
		if err := b.rc.WaitFlush(ctx, len(page)); err != nil {
			return err
		}
		if err := b.disk.putPage(e.tile.ID, page); err != nil {
			return err
		}
		e.dirty = false
	}
	return nil
}

// Buffered returns the number of tiles and bytes held in memory.
func (b *Buffered) Buffered() (tiles int, bytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items), b.size
}

func (b *Buffered) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ent := b.evictList.Front(); ent != nil; {
		next := ent.Next()
		b.removeElement(ent)
		ent = next
	}
	b.reset()
	return b.disk.Clear(ctx)
}

func (b *Buffered) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	ds := b.disk.Stats()
	s := Stats{Tiles: ds.Tiles, Bytes: ds.Bytes}
	for _, ent := range b.items {
		e := ent.Value.(*bufEntry)
		if e.dirty && b.disk.SizeOf(e.tile.ID) == 0 {
			s.Tiles++
			s.Bytes += e.size
		}
	}
	b.fill(&s)
	return s
}

func (b *Buffered) Close() error {
	b.mu.Lock()
	for ent := b.evictList.Front(); ent != nil; {
		next := ent.Next()
		b.removeElement(ent)
		ent = next
	}
	b.mu.Unlock()
	return b.disk.Close()
}

func cloneTile(t Tile) Tile {
	return Tile{ID: t.ID, Envelope: t.Envelope, Records: slices.Clone(t.Records)}
}
