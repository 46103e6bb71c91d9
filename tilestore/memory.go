package tilestore

import (
	"context"
	"slices"
	"sync"

	"github.com/hupe1980/tilecache/model"
)

// tileOverhead approximates the fixed heap cost of one stored tile.
const tileOverhead = 64

// Memory keeps tiles on the heap. Records are shared, not copied: a record
// referenced by several tiles costs its payload once.
type Memory struct {
	mu     sync.RWMutex
	tiles  map[model.TileID]memEntry
	bytes  int64
	closed bool
	counters
}

type memEntry struct {
	tile Tile
	size int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tiles: make(map[model.TileID]memEntry)}
}

// TileSize returns the approximate heap size of a tile.
func TileSize(t Tile) int64 {
	size := int64(tileOverhead)
	for _, r := range t.Records {
		size += r.ApproxSize()
	}
	return size
}

func (m *Memory) Get(_ context.Context, id model.TileID) (Tile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Tile{}, ErrClosed
	}
	e, ok := m.tiles[id]
	if !ok {
		return Tile{}, ErrNotFound
	}
	m.read(e.size)
	return Tile{ID: e.tile.ID, Envelope: e.tile.Envelope, Records: slices.Clone(e.tile.Records)}, nil
}

func (m *Memory) Put(_ context.Context, t Tile) error {
	size := TileSize(t)
	t.Records = slices.Clone(t.Records)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if old, ok := m.tiles[t.ID]; ok {
		m.bytes -= old.size
	}
	m.tiles[t.ID] = memEntry{tile: t, size: size}
	m.bytes += size
	m.wrote(size)
	return nil
}

func (m *Memory) Remove(_ context.Context, id model.TileID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if old, ok := m.tiles[id]; ok {
		m.bytes -= old.size
		delete(m.tiles, id)
	}
	return nil
}

func (m *Memory) SizeOf(id model.TileID) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tiles[id].size
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.tiles)
	m.bytes = 0
	m.reset()
	return nil
}

func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Tiles: len(m.tiles), Bytes: m.bytes}
	m.fill(&s)
	return s
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.tiles = nil
	m.bytes = 0
	return nil
}
