package tracker

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/tilecache/internal/grid"
	"github.com/hupe1980/tilecache/model"
	"github.com/hupe1980/tilecache/tilestore"
)

// Unit is the measure of the capacity.
type Unit uint8

const (
	// Records counts the record references held by tiles.
	Records Unit = iota
	// Tiles counts registered tiles.
	Tiles
	// Bytes counts stored bytes as reported by the tile store.
	Bytes
)

// String returns the unit name.
func (u Unit) String() string {
	switch u {
	case Records:
		return "records"
	case Tiles:
		return "tiles"
	case Bytes:
		return "bytes"
	default:
		return fmt.Sprintf("unit(%d)", uint8(u))
	}
}

// ErrOversized is returned when tiles cannot fit the capacity.
var ErrOversized = errors.New("tiles exceed cache capacity")

// OversizedError describes a rejected admission.
type OversizedError struct {
	Tile     model.TileID // largest offending tile
	Size     int64        // total size that would have been pinned
	Capacity int64
	Unit     Unit
}

func (e *OversizedError) Error() string {
	return fmt.Sprintf("%d %s exceed capacity %d (largest tile %s)", e.Size, e.Unit, e.Capacity, e.Tile)
}

// Is reports whether target is ErrOversized.
func (e *OversizedError) Is(target error) bool { return target == ErrOversized }

// Stats is a snapshot of tracker counters.
type Stats struct {
	Reads            int64 // tiles read from the store for callers
	Writes           int64 // tiles written to the store
	Evictions        int64
	EvictionFailures int64
	Hits             int64 // tiles served from cache
	Misses           int64 // tiles that had to be fetched
	Tiles            int
	Size             int64
	Capacity         int64
	Unit             Unit
}

// Config configures a Tracker.
type Config struct {
	Capacity int64
	Unit     Unit
	Logger   *slog.Logger
}

// Tracker maintains LRU order over the registered tiles of a grid.
type Tracker struct {
	grid     *grid.Grid
	store    tilestore.Store
	capacity int64
	unit     Unit
	logger   *slog.Logger

	mu        sync.Mutex
	items     map[model.TileID]*list.Element
	evictList *list.List
	total     int64

	recordAccess atomic.Bool

	reads            atomic.Int64
	writes           atomic.Int64
	evictions        atomic.Int64
	evictionFailures atomic.Int64
	hits             atomic.Int64
	misses           atomic.Int64
}

type entry struct {
	id   model.TileID
	size int64
}

// New creates a tracker over g and store.
func New(g *grid.Grid, store tilestore.Store, cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &Tracker{
		grid:      g,
		store:     store,
		capacity:  cfg.Capacity,
		unit:      cfg.Unit,
		logger:    logger,
		items:     make(map[model.TileID]*list.Element),
		evictList: list.New(),
	}
	t.recordAccess.Store(true)
	return t
}

// Capacity returns the configured capacity.
func (t *Tracker) Capacity() int64 { return t.capacity }

// Unit returns the capacity unit.
func (t *Tracker) Unit() Unit { return t.unit }

// SetRecordAccess controls whether reads refresh LRU recency.
func (t *Tracker) SetRecordAccess(on bool) { t.recordAccess.Store(on) }

// RecordAccess reports whether reads refresh LRU recency.
func (t *Tracker) RecordAccess() bool { return t.recordAccess.Load() }

// measure returns the size of a tile already put into the store.
func (t *Tracker) measure(tile tilestore.Tile) int64 {
	switch t.unit {
	case Tiles:
		return 1
	case Bytes:
		return t.store.SizeOf(tile.ID)
	default:
		return int64(len(tile.Records))
	}
}

// SizeOf returns the tracked size of a registered tile (0 if absent).
func (t *Tracker) SizeOf(id model.TileID) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ent, ok := t.items[id]; ok {
		return ent.Value.(*entry).size
	}
	return 0
}

// Total returns the tracked size of all registered tiles.
func (t *Tracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Len returns the number of tracked tiles.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictList.Len()
}

// Get reads a registered tile and refreshes its recency.
func (t *Tracker) Get(ctx context.Context, id model.TileID) (tilestore.Tile, error) {
	tile, err := t.store.Get(ctx, id)
	if err != nil {
		return tilestore.Tile{}, err
	}
	t.reads.Add(1)
	t.hits.Add(1)
	t.Touch(id)
	return tile, nil
}

// Peek reads a tile without touching recency or statistics.
func (t *Tracker) Peek(ctx context.Context, id model.TileID) (tilestore.Tile, error) {
	return t.store.Get(ctx, id)
}

// Touch marks id as most recently used, unless record access is disabled.
func (t *Tracker) Touch(id model.TileID) {
	if !t.recordAccess.Load() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ent, ok := t.items[id]; ok {
		t.evictList.MoveToFront(ent)
	}
}

// Missed counts tiles that had to be fetched from the source.
func (t *Tracker) Missed(n int) { t.misses.Add(int64(n)) }

// Order returns the tracked tiles from most to least recently used.
func (t *Tracker) Order() []model.TileID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]model.TileID, 0, t.evictList.Len())
	for ent := t.evictList.Front(); ent != nil; ent = ent.Next() {
		ids = append(ids, ent.Value.(*entry).id)
	}
	return ids
}

// staged is a tile written to the store but not yet registered.
type staged struct {
	tile tilestore.Tile
	size int64
}

// stage writes tiles to the store and measures them. On error the tiles
// written so far are removed again.
func (t *Tracker) stage(ctx context.Context, tiles []tilestore.Tile) ([]staged, error) {
	out := make([]staged, 0, len(tiles))
	for _, tile := range tiles {
		if err := t.store.Put(ctx, tile); err != nil {
			t.unstage(ctx, out)
			return nil, fmt.Errorf("store tile %s: %w", tile.ID, err)
		}
		out = append(out, staged{tile: tile, size: t.measure(tile)})
	}
	return out, nil
}

func (t *Tracker) unstage(ctx context.Context, st []staged) {
	for _, s := range st {
		if err := t.store.Remove(ctx, s.tile.ID); err != nil {
			t.logger.Warn("rollback of staged tile failed", "tile", s.tile.ID.String(), "error", err)
		}
	}
}

// pinnedSize sums the tracked sizes of pinned tiles not in skip. Callers hold t.mu.
func (t *Tracker) pinnedSize(pinned []model.TileID, skip map[model.TileID]struct{}) int64 {
	var sum int64
	for _, id := range pinned {
		if _, ok := skip[id]; ok {
			continue
		}
		if ent, ok := t.items[id]; ok {
			sum += ent.Value.(*entry).size
		}
	}
	return sum
}

// Admit stores and registers freshly fetched tiles, then evicts least
// recently used tiles until the total fits the capacity. Tiles in pinned and
// the admitted tiles themselves are never evicted by this call.
//
// If the pinned tiles together with the new ones exceed the capacity, nothing
// is registered and an *OversizedError is returned.
func (t *Tracker) Admit(ctx context.Context, tiles []tilestore.Tile, pinned []model.TileID) error {
	st, err := t.stage(ctx, tiles)
	if err != nil {
		return err
	}

	newIDs := make(map[model.TileID]struct{}, len(st))
	var newSize int64
	var largest staged
	for _, s := range st {
		newIDs[s.tile.ID] = struct{}{}
		newSize += s.size
		if s.size >= largest.size {
			largest = s
		}
	}

	t.mu.Lock()
	need := t.pinnedSize(pinned, newIDs) + newSize
	t.mu.Unlock()
	if need > t.capacity {
		t.unstage(ctx, st)
		return &OversizedError{Tile: largest.tile.ID, Size: need, Capacity: t.capacity, Unit: t.unit}
	}

	for _, s := range st {
		t.register(s)
	}
	t.writes.Add(int64(len(st)))

	for _, id := range pinned {
		newIDs[id] = struct{}{}
	}
	t.Evict(ctx, newIDs)
	return nil
}

func (t *Tracker) register(s staged) {
	ids := make([]model.RecordID, len(s.tile.Records))
	for i, r := range s.tile.Records {
		ids[i] = r.ID
	}
	t.grid.Register(s.tile.ID, ids)

	t.mu.Lock()
	defer t.mu.Unlock()
	if ent, ok := t.items[s.tile.ID]; ok {
		e := ent.Value.(*entry)
		t.total += s.size - e.size
		e.size = s.size
		t.evictList.MoveToFront(ent)
		return
	}
	t.items[s.tile.ID] = t.evictList.PushFront(&entry{id: s.tile.ID, size: s.size})
	t.total += s.size
}

// Replace rewrites the content of registered tiles (records added by a
// write). The new sizes are checked first: if a single tile or the pinned
// set would exceed the capacity, the previous contents are restored and an
// *OversizedError is returned. Replaced tiles keep their recency.
func (t *Tracker) Replace(ctx context.Context, tiles []tilestore.Tile, pinned []model.TileID) error {
	old := make([]tilestore.Tile, 0, len(tiles))
	for _, tile := range tiles {
		prev, err := t.store.Get(ctx, tile.ID)
		if err != nil {
			return fmt.Errorf("load tile %s: %w", tile.ID, err)
		}
		old = append(old, prev)
	}

	restore := func() {
		for _, prev := range old {
			if err := t.store.Put(ctx, prev); err != nil {
				t.logger.Warn("restore of tile failed", "tile", prev.ID.String(), "error", err)
			}
		}
	}

	var st []staged
	for _, tile := range tiles {
		if err := t.store.Put(ctx, tile); err != nil {
			restore()
			return fmt.Errorf("store tile %s: %w", tile.ID, err)
		}
		st = append(st, staged{tile: tile, size: t.measure(tile)})
	}

	replaced := make(map[model.TileID]struct{}, len(st))
	var newSize int64
	var largest staged
	for _, s := range st {
		replaced[s.tile.ID] = struct{}{}
		newSize += s.size
		if s.size >= largest.size {
			largest = s
		}
	}

	t.mu.Lock()
	need := t.pinnedSize(pinned, replaced) + newSize
	t.mu.Unlock()
	if largest.size > t.capacity || need > t.capacity {
		restore()
		return &OversizedError{Tile: largest.tile.ID, Size: need, Capacity: t.capacity, Unit: t.unit}
	}

	t.mu.Lock()
	for _, s := range st {
		if ent, ok := t.items[s.tile.ID]; ok {
			e := ent.Value.(*entry)
			t.total += s.size - e.size
			e.size = s.size
		}
	}
	t.mu.Unlock()
	t.writes.Add(int64(len(st)))

	for _, id := range pinned {
		replaced[id] = struct{}{}
	}
	t.Evict(ctx, replaced)
	return nil
}

// MarkValid registers empty tiles without running eviction.
func (t *Tracker) MarkValid(ctx context.Context, tiles []tilestore.Tile) error {
	st, err := t.stage(ctx, tiles)
	if err != nil {
		return err
	}
	for _, s := range st {
		t.register(s)
	}
	t.writes.Add(int64(len(st)))
	return nil
}

// Evict removes least recently used tiles not in pinned until the total fits
// the capacity or no candidate remains. A tile whose store removal fails is
// logged, left fully registered and retried on the next call. It returns the
// evicted tiles.
func (t *Tracker) Evict(ctx context.Context, pinned map[model.TileID]struct{}) []model.TileID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []model.TileID
	ent := t.evictList.Back()
	for t.total > t.capacity && ent != nil {
		prev := ent.Prev()
		e := ent.Value.(*entry)
		if _, ok := pinned[e.id]; ok {
			ent = prev
			continue
		}

		if err := t.store.Remove(ctx, e.id); err != nil {
			t.evictionFailures.Add(1)
			t.logger.Warn("tile eviction failed", "tile", e.id.String(), "error", err)
			ent = prev
			continue
		}

		t.grid.Invalidate(e.id)
		t.evictList.Remove(ent)
		delete(t.items, e.id)
		t.total -= e.size
		t.evictions.Add(1)
		evicted = append(evicted, e.id)
		ent = prev
	}
	return evicted
}

// Drop unregisters a tile regardless of capacity (explicit removal or data
// change). A failing store removal is logged; the tile is unregistered
// anyway, so stale store content is never served.
func (t *Tracker) Drop(ctx context.Context, id model.TileID) {
	if err := t.store.Remove(ctx, id); err != nil {
		t.logger.Warn("tile removal failed", "tile", id.String(), "error", err)
	}
	t.grid.Invalidate(id)

	t.mu.Lock()
	defer t.mu.Unlock()
	if ent, ok := t.items[id]; ok {
		t.total -= ent.Value.(*entry).size
		t.evictList.Remove(ent)
		delete(t.items, id)
	}
}

// Clear drops every tile and resets statistics.
func (t *Tracker) Clear(ctx context.Context) error {
	t.grid.Clear()

	t.mu.Lock()
	clear(t.items)
	t.evictList.Init()
	t.total = 0
	t.mu.Unlock()

	t.reads.Store(0)
	t.writes.Store(0)
	t.evictions.Store(0)
	t.evictionFailures.Store(0)
	t.hits.Store(0)
	t.misses.Store(0)

	return t.store.Clear(ctx)
}

// Stats returns a snapshot of the counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	tiles, size := t.evictList.Len(), t.total
	t.mu.Unlock()

	return Stats{
		Reads:            t.reads.Load(),
		Writes:           t.writes.Load(),
		Evictions:        t.evictions.Load(),
		EvictionFailures: t.evictionFailures.Load(),
		Hits:             t.hits.Load(),
		Misses:           t.misses.Load(),
		Tiles:            tiles,
		Size:             size,
		Capacity:         t.capacity,
		Unit:             t.unit,
	}
}
