package tilestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/hupe1980/tilecache/blobstore"
	"github.com/hupe1980/tilecache/model"
)

// Blob stores each tile as an object named
// <prefix>tiles/<level>/<col>/<row>.tile in a blob store.
type Blob struct {
	store  blobstore.BlobStore
	prefix string
	codec  PageCodec

	mu    sync.RWMutex
	sizes map[model.TileID]int64
	bytes int64
	counters
}

// NewBlob creates a blob-backed tile store.
func NewBlob(store blobstore.BlobStore, prefix string, pc PageCodec) *Blob {
	return &Blob{
		store:  store,
		prefix: prefix,
		codec:  pc,
		sizes:  make(map[model.TileID]int64),
	}
}

func (b *Blob) name(id model.TileID) string {
	return path.Join(b.prefix, "tiles", fmt.Sprint(id.Level), fmt.Sprint(id.Col), fmt.Sprintf("%d.tile", id.Row))
}

func (b *Blob) Get(ctx context.Context, id model.TileID) (Tile, error) {
	page, err := b.store.Get(ctx, b.name(id))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return Tile{}, ErrNotFound
		}
		return Tile{}, err
	}
	b.read(int64(len(page)))
	return b.codec.Decode(page)
}

func (b *Blob) Put(ctx context.Context, t Tile) error {
	page, err := b.codec.Encode(t)
	if err != nil {
		return err
	}
	if err := b.store.Put(ctx, b.name(t.ID), page); err != nil {
		return err
	}

	size := int64(len(page))
	b.mu.Lock()
	b.bytes += size - b.sizes[t.ID]
	b.sizes[t.ID] = size
	b.mu.Unlock()

	b.wrote(size)
	return nil
}

func (b *Blob) Remove(ctx context.Context, id model.TileID) error {
	if err := b.store.Delete(ctx, b.name(id)); err != nil {
		return err
	}
	b.mu.Lock()
	b.bytes -= b.sizes[id]
	delete(b.sizes, id)
	b.mu.Unlock()
	return nil
}

func (b *Blob) SizeOf(id model.TileID) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sizes[id]
}

// Clear deletes every tile object below the prefix, including objects left
// over from earlier processes.
func (b *Blob) Clear(ctx context.Context) error {
	names, err := b.store.List(ctx, path.Join(b.prefix, "tiles")+"/")
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := b.store.Delete(ctx, name); err != nil {
			return err
		}
	}
	b.mu.Lock()
	clear(b.sizes)
	b.bytes = 0
	b.mu.Unlock()
	b.reset()
	return nil
}

func (b *Blob) Stats() Stats {
	b.mu.RLock()
	s := Stats{Tiles: len(b.sizes), Bytes: b.bytes}
	b.mu.RUnlock()
	b.fill(&s)
	return s
}

// Close leaves objects in place; the owner of the blob store decides their fate.
func (b *Blob) Close() error { return nil }
