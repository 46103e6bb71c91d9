package tilecache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tilecache/filter"
	"github.com/hupe1980/tilecache/internal/grid"
	"github.com/hupe1980/tilecache/internal/tracker"
	"github.com/hupe1980/tilecache/model"
	"github.com/hupe1980/tilecache/source"
	"github.com/hupe1980/tilecache/tilestore"
)

// SortBy orders query results by one attribute.
type SortBy struct {
	Property   string
	Descending bool
}

// Query extends a filter with projection, paging and sort order.
type Query struct {
	// Filter selects records. Nil matches everything.
	Filter filter.Filter
	// Properties limits the returned attributes. Empty keeps all.
	Properties []string
	// MaxFeatures caps the number of results. Zero means unlimited.
	MaxFeatures int
	// StartIndex skips leading results. It cannot be combined with SortBy.
	StartIndex int
	// SortBy orders the results. Records missing a property sort first;
	// ties fall back to ascending record id.
	SortBy []SortBy
}

func (q Query) validate() error {
	if q.MaxFeatures < 0 {
		return fmt.Errorf("%w: negative max features %d", ErrUnsupportedQuery, q.MaxFeatures)
	}
	if q.StartIndex < 0 {
		return fmt.Errorf("%w: negative start index %d", ErrUnsupportedQuery, q.StartIndex)
	}
	if q.StartIndex > 0 && len(q.SortBy) > 0 {
		return fmt.Errorf("%w: start index cannot be combined with sort order", ErrUnsupportedQuery)
	}
	return nil
}

// Features returns every record matching f, sorted by record id.
//
// Filters reducible to a bounding box are answered from the tiles covering
// it; missing tiles are fetched from the source and registered, even when
// they turn out to be empty. Other filters are delegated to the source.
// Source errors are returned unchanged.
func (c *Cache) Features(ctx context.Context, f filter.Filter) (model.FeatureCollection, error) {
	plan, ok := filter.Decompose(f)
	if !ok {
		return c.delegate(ctx, f)
	}
	if plan.Empty {
		return model.FeatureCollection{}, c.checkOpen()
	}

	fc, err := c.cachedFeatures(ctx, plan.Envelope)
	if err != nil {
		return nil, err
	}
	return applyResidual(fc, plan.Residual), nil
}

// FeaturesQuery runs q. A start index combined with a sort order fails with
// ErrUnsupportedQuery before any work is done.
func (c *Cache) FeaturesQuery(ctx context.Context, q Query) (model.FeatureCollection, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	fc, err := c.Features(ctx, q.Filter)
	if err != nil {
		return nil, err
	}

	if len(q.SortBy) > 0 {
		slices.SortStableFunc(fc, func(a, b model.Record) int {
			return compareRecords(a, b, q.SortBy)
		})
	}

	if q.StartIndex > 0 {
		if q.StartIndex >= len(fc) {
			fc = fc[:0]
		} else {
			fc = fc[q.StartIndex:]
		}
	}
	if q.MaxFeatures > 0 && len(fc) > q.MaxFeatures {
		fc = fc[:q.MaxFeatures]
	}
	if len(q.Properties) > 0 {
		for i := range fc {
			fc[i] = fc[i].Project(q.Properties)
		}
	}
	return fc, nil
}

func compareRecords(a, b model.Record, keys []SortBy) int {
	for _, k := range keys {
		av, aok := a.Get(k.Property)
		bv, bok := b.Get(k.Property)

		var c int
		switch {
		case !aok && !bok:
			c = 0
		case !aok:
			c = -1
		case !bok:
			c = 1
		default:
			c, _ = filter.CompareValues(av, bv)
		}
		if k.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return cmp.Compare(a.ID, b.ID)
}

// Count returns the number of records matching f. It is answered from the
// cache when every tile covering the filter's envelope is registered and
// from the source otherwise; counting never fetches tiles.
func (c *Cache) Count(ctx context.Context, f filter.Filter) (int, error) {
	plan, ok := filter.Decompose(f)
	if !ok {
		fc, err := c.delegate(ctx, f)
		return len(fc), err
	}
	if plan.Empty {
		return 0, c.checkOpen()
	}

	env := plan.Envelope
	clipped, ok := env.Intersection(c.grid.Universe())
	if !ok {
		return 0, c.checkOpen()
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return 0, ErrClosed
	}
	if c.grid.CellCount(clipped) <= c.maxTiles && c.grid.Covered(clipped) {
		fc, err := c.readRegistered(ctx, c.grid.Match(clipped), env)
		c.mu.RUnlock()
		if err == nil {
			return len(applyResidual(fc, plan.Residual)), nil
		}
	} else {
		c.mu.RUnlock()
	}

	if plan.Residual != nil {
		fc, err := c.Features(ctx, f)
		return len(fc), err
	}
	return c.src.Count(ctx, env)
}

// Peek returns the cached records intersecting region without fetching,
// registering or refreshing LRU recency. Unregistered tiles contribute
// nothing.
func (c *Cache) Peek(ctx context.Context, region model.Envelope) (model.FeatureCollection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}

	var ids []model.TileID
	c.grid.IntersectionQuery(region, grid.VisitorFunc(func(t *grid.Tile) {
		ids = append(ids, t.ID)
	}))

	m := newMerger(c.grid.Interner(), region)
	for _, id := range ids {
		tile, err := c.tracker.Peek(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("peek tile %s: %w", id, err)
		}
		m.addAll(tile.Records)
	}
	return m.result(), nil
}

func (c *Cache) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// delegate answers a filter without spatial bound straight from the source.
func (c *Cache) delegate(ctx context.Context, f filter.Filter) (model.FeatureCollection, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	var (
		fc  model.FeatureCollection
		err error
	)
	if fs, ok := c.src.(source.FilteredSource); ok {
		fc, err = fs.FeaturesFiltered(ctx, f)
	} else {
		fc, err = c.src.Features(ctx, model.Everything)
		if err == nil {
			fc = applyResidual(slices.Clone(fc), f)
		}
	}
	if err != nil {
		return nil, err
	}
	fc = slices.Clone(fc)
	fc.SortByID()
	return fc, nil
}

func applyResidual(fc model.FeatureCollection, f filter.Filter) model.FeatureCollection {
	if f == nil {
		return fc
	}
	out := fc[:0]
	for _, r := range fc {
		if f.Evaluate(r) {
			out = append(out, r)
		}
	}
	return out
}

// cachedFeatures returns the records intersecting env, fetching and
// registering missing tiles.
func (c *Cache) cachedFeatures(ctx context.Context, env model.Envelope) (fc model.FeatureCollection, err error) {
	start := time.Now()
	var tiles, missing int
	defer func() {
		c.metrics.RecordQuery(tiles, missing, time.Since(start), err)
	}()

	clipped, ok := env.Intersection(c.grid.Universe())
	if !ok {
		return model.FeatureCollection{}, c.checkOpen()
	}
	if n := c.grid.CellCount(clipped); n > c.maxTiles {
		tiles = int(n)
		return c.bypass(ctx, env, n)
	}

	// Fast path: every tile registered, shared lock.
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClosed
	}
	cells := c.grid.Match(clipped)
	tiles = len(cells)
	if allRegistered(cells) {
		fc, err := c.readRegistered(ctx, cells, env)
		c.mu.RUnlock()
		if err == nil {
			return fc, nil
		}
	} else {
		c.mu.RUnlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	cells = c.grid.Match(clipped)
	tiles = len(cells)
	fc, missing, err = c.fill(ctx, cells, env)
	return fc, err
}

// bypass answers a region too large to tile straight from the source.
func (c *Cache) bypass(ctx context.Context, env model.Envelope, tiles int64) (model.FeatureCollection, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "region exceeds tile limit, bypassing cache",
		"envelope", env.String(),
		"tiles", tiles,
		"limit", c.maxTiles,
	)

	fc, err := c.src.Features(ctx, env)
	if err != nil {
		return nil, err
	}
	m := newMerger(grid.NewInterner(), env)
	m.addAll(fc)
	return m.result(), nil
}

func allRegistered(cells []grid.Cell) bool {
	for _, cell := range cells {
		if !cell.Registered {
			return false
		}
	}
	return true
}

// readRegistered reads registered cells and merges their records. Callers
// hold at least the read lock.
func (c *Cache) readRegistered(ctx context.Context, cells []grid.Cell, env model.Envelope) (model.FeatureCollection, error) {
	m := newMerger(c.grid.Interner(), env)
	for _, cell := range cells {
		tile, err := c.tracker.Get(ctx, cell.ID)
		if err != nil {
			return nil, err
		}
		m.addAll(tile.Records)
	}
	return m.result(), nil
}

// fill reads the registered cells, fetches the rest and admits them.
// Callers hold the write lock.
func (c *Cache) fill(ctx context.Context, cells []grid.Cell, env model.Envelope) (model.FeatureCollection, int, error) {
	var (
		cached []tilestore.Tile
		gaps   []grid.Cell
	)
	for _, cell := range cells {
		if !cell.Registered {
			gaps = append(gaps, cell)
			continue
		}
		tile, err := c.tracker.Get(ctx, cell.ID)
		if err != nil {
			c.logger.LogUnreadableTile(ctx, cell.ID, err)
			c.tracker.Drop(ctx, cell.ID)
			gaps = append(gaps, cell)
			continue
		}
		cached = append(cached, tile)
	}

	fetched, err := c.fetch(ctx, c.runs(gaps))
	if err != nil {
		return nil, len(gaps), err
	}

	if len(fetched) > 0 {
		pinned := make([]model.TileID, len(cells))
		for i, cell := range cells {
			pinned[i] = cell.ID
		}

		before := c.tracker.Stats().Evictions
		if err := c.tracker.Admit(ctx, fetched, pinned); err != nil {
			if errors.Is(err, tracker.ErrOversized) {
				c.logger.LogOversized(ctx, env, err)
			} else {
				c.logger.WarnContext(ctx, "caching fetched tiles failed, serving uncached",
					"envelope", env.String(),
					"error", err,
				)
			}
		}
		if n := c.tracker.Stats().Evictions - before; n > 0 {
			c.metrics.RecordEviction(int(n))
		}
		c.tracker.Missed(len(fetched))
	}

	m := newMerger(c.grid.Interner(), env)
	for _, tile := range cached {
		m.addAll(tile.Records)
	}
	for _, tile := range fetched {
		m.addAll(tile.Records)
	}
	return m.result(), len(gaps), nil
}

// run is a horizontal strip of adjacent missing tiles fetched with one
// source call.
type run struct {
	cells    []grid.Cell
	envelope model.Envelope
}

// runs groups row-major cells into horizontal runs. Without coalescing every
// cell is its own run.
func (c *Cache) runs(cells []grid.Cell) []run {
	var out []run
	for _, cell := range cells {
		if n := len(out); n > 0 && c.coalesce {
			last := &out[n-1]
			prev := last.cells[len(last.cells)-1].ID
			if prev.Row == cell.ID.Row && prev.Col+1 == cell.ID.Col {
				last.cells = append(last.cells, cell)
				last.envelope = last.envelope.Union(cell.Envelope)
				continue
			}
		}
		out = append(out, run{cells: []grid.Cell{cell}, envelope: cell.Envelope})
	}
	return out
}

// fetch loads every run from the source in parallel and splits the results
// into tiles. The first source error is returned unchanged.
func (c *Cache) fetch(ctx context.Context, runs []run) ([]tilestore.Tile, error) {
	if len(runs) == 0 {
		return nil, nil
	}

	results := make([][]tilestore.Tile, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range runs {
		g.Go(func() error {
			if err := c.rc.AcquireFetch(gctx); err != nil {
				return err
			}
			defer c.rc.ReleaseFetch()

			start := time.Now()
			fc, err := c.src.Features(gctx, r.envelope)
			d := time.Since(start)
			c.logger.LogFetch(gctx, r.envelope, len(r.cells), len(fc), d, err)
			c.metrics.RecordFetch(len(r.cells), len(fc), d, err)
			if err != nil {
				return err
			}
			results[i] = partition(r.cells, fc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var tiles []tilestore.Tile
	for _, ts := range results {
		tiles = append(tiles, ts...)
	}
	return tiles, nil
}

// partition assigns every record to each cell its envelope intersects.
func partition(cells []grid.Cell, fc model.FeatureCollection) []tilestore.Tile {
	tiles := make([]tilestore.Tile, len(cells))
	for i, cell := range cells {
		tiles[i] = tilestore.Tile{ID: cell.ID, Envelope: cell.Envelope, Records: []model.Record{}}
		for _, r := range fc {
			if r.Envelope.Intersects(cell.Envelope) {
				tiles[i].Records = append(tiles[i].Records, r)
			}
		}
	}
	return tiles
}

// merger collects records intersecting an envelope, keeping each record id
// once. Interned records are tracked in a bitmap of ordinals; records that
// are not cached fall back to a set of ids.
type merger struct {
	interner *grid.Interner
	envelope model.Envelope
	seen     *roaring.Bitmap
	extra    map[model.RecordID]struct{}
	out      model.FeatureCollection
}

func newMerger(in *grid.Interner, env model.Envelope) *merger {
	return &merger{
		interner: in,
		envelope: env,
		seen:     roaring.New(),
		out:      model.FeatureCollection{},
	}
}

func (m *merger) add(r model.Record) {
	if !r.Envelope.Intersects(m.envelope) {
		return
	}
	if ord, ok := m.interner.Lookup(r.ID); ok {
		if !m.seen.CheckedAdd(ord) {
			return
		}
	} else {
		if m.extra == nil {
			m.extra = make(map[model.RecordID]struct{})
		}
		if _, dup := m.extra[r.ID]; dup {
			return
		}
		m.extra[r.ID] = struct{}{}
	}
	m.out = append(m.out, r)
}

func (m *merger) addAll(records []model.Record) {
	for _, r := range records {
		m.add(r)
	}
}

func (m *merger) result() model.FeatureCollection {
	m.out.SortByID()
	return m.out
}
