package tilecache

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/tilecache/internal/grid"
	"github.com/hupe1980/tilecache/model"
	"github.com/hupe1980/tilecache/tilestore"
)

// Put inserts or replaces records in the tiles that are already
// registered. It never writes to the source and never registers new tiles;
// records outside every registered tile are ignored. A record that moved is
// removed from registered tiles it no longer intersects.
//
// If the updated tiles exceed the capacity, the previous contents are kept
// and a *CacheOversizedError is returned.
func (c *Cache) Put(ctx context.Context, fc model.FeatureCollection) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordPut(len(fc), time.Since(start), err)
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if len(fc) == 0 {
		return nil
	}

	batch := make(map[model.RecordID]model.Record, len(fc))
	prev := roaring.New()
	for _, r := range fc {
		batch[r.ID] = r
		if ord, ok := c.grid.Interner().Lookup(r.ID); ok {
			prev.Add(ord)
		}
	}

	affected := make(map[model.TileID]model.Envelope)
	mark := grid.VisitorFunc(func(t *grid.Tile) {
		affected[t.ID] = t.Envelope
	})
	for _, r := range batch {
		c.grid.IntersectionQuery(r.Envelope, mark)
	}
	if !prev.IsEmpty() {
		c.grid.IntersectionQuery(c.grid.Universe(), grid.VisitorFunc(func(t *grid.Tile) {
			if t.Records.Intersects(prev) {
				affected[t.ID] = t.Envelope
			}
		}))
	}
	if len(affected) == 0 {
		return nil
	}

	ids := make([]model.TileID, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b model.TileID) int {
		if d := cmp.Compare(a.Row, b.Row); d != 0 {
			return d
		}
		return cmp.Compare(a.Col, b.Col)
	})

	tiles := make([]tilestore.Tile, 0, len(ids))
	for _, id := range ids {
		old, err := c.tracker.Peek(ctx, id)
		if err != nil {
			return fmt.Errorf("load tile %s: %w", id, err)
		}
		env := affected[id]
		records := make(model.FeatureCollection, 0, len(old.Records)+len(batch))
		for _, r := range old.Records {
			if _, replaced := batch[r.ID]; !replaced {
				records = append(records, r)
			}
		}
		for _, r := range batch {
			if r.Envelope.Intersects(env) {
				records = append(records, r)
			}
		}
		records.SortByID()
		tiles = append(tiles, tilestore.Tile{ID: id, Envelope: env, Records: records})
	}

	before := c.tracker.Stats().Evictions
	if err := c.tracker.Replace(ctx, tiles, nil); err != nil {
		return translateError(err)
	}
	if n := c.tracker.Stats().Evictions - before; n > 0 {
		c.metrics.RecordEviction(int(n))
	}

	for _, tile := range tiles {
		rids := make([]model.RecordID, len(tile.Records))
		for i, r := range tile.Records {
			rids[i] = r.ID
		}
		c.grid.Register(tile.ID, rids)
	}
	return nil
}

// Register marks every unregistered tile fully contained in region as
// registered and empty, without running eviction. Use it after Put when the
// caller knows the region holds nothing else.
func (c *Cache) Register(ctx context.Context, region model.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if n := c.grid.CellCount(region); n > c.maxTiles {
		return fmt.Errorf("%w: register %d tiles, limit %d", ErrRegionTooLarge, n, c.maxTiles)
	}

	var tiles []tilestore.Tile
	for _, cell := range c.grid.Match(region) {
		if cell.Registered || !region.Contains(cell.Envelope) {
			continue
		}
		tiles = append(tiles, tilestore.Tile{ID: cell.ID, Envelope: cell.Envelope, Records: []model.Record{}})
	}
	if len(tiles) == 0 {
		return nil
	}
	return c.tracker.MarkValid(ctx, tiles)
}

// Remove drops every registered tile fully contained in region.
func (c *Cache) Remove(ctx context.Context, region model.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	for _, id := range c.grid.Remove(region) {
		c.tracker.Drop(ctx, id)
	}
	return nil
}

// Invalidate drops every registered tile intersecting region, so the next
// query covering it refetches from the source. It is called for every change
// reported by a source.Notifier.
func (c *Cache) Invalidate(ctx context.Context, region model.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	var ids []model.TileID
	c.grid.IntersectionQuery(region, grid.VisitorFunc(func(t *grid.Tile) {
		ids = append(ids, t.ID)
	}))
	for _, id := range ids {
		c.tracker.Drop(ctx, id)
	}
	if len(ids) > 0 {
		c.logger.LogInvalidate(ctx, region, len(ids))
	}
	return nil
}

// Clear drops every tile and resets the statistics. Readers that already
// hold the shared lock finish against the old state.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	err := c.tracker.Clear(ctx)
	c.logger.LogClear(ctx, err)
	return err
}
