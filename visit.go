package tilecache

import (
	"context"

	"github.com/hupe1980/tilecache/internal/grid"
	"github.com/hupe1980/tilecache/model"
)

// TileInfo describes a registered tile during VisitTiles.
type TileInfo struct {
	ID       model.TileID
	Envelope model.Envelope
	Records  int   // record references held by the tile
	Size     int64 // tracked size in the capacity unit
}

// TileVisitor is called once per registered tile intersecting the region.
type TileVisitor interface {
	VisitTile(t TileInfo)
}

// RecordVisitor additionally receives the id of every record referenced by
// a visited tile, right after VisitTile.
type RecordVisitor interface {
	TileVisitor
	VisitRecord(t TileInfo, id model.RecordID)
}

// NodeVisitor additionally receives every interior grid node entered during
// the traversal. Level counts up from 1 above the tiles.
type NodeVisitor interface {
	TileVisitor
	VisitNode(level uint8, env model.Envelope, validTiles int)
}

// TileVisitorFunc adapts a function to TileVisitor.
type TileVisitorFunc func(t TileInfo)

// VisitTile implements TileVisitor.
func (f TileVisitorFunc) VisitTile(t TileInfo) { f(t) }

// VisitTiles walks the registered tiles intersecting region in a fixed
// depth-first order. Each visit counts as an access for LRU purposes unless
// record access is disabled with SetRecordAccess(false). Tile contents are
// not read.
func (c *Cache) VisitTiles(ctx context.Context, region model.Envelope, v TileVisitor) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b := &tileBridge{c: c, v: v}
	rv, isRecord := v.(RecordVisitor)
	nv, isNode := v.(NodeVisitor)

	switch {
	case isRecord && isNode:
		c.grid.IntersectionQuery(region, &fullBridge{recordBridge{b, rv}, nv})
	case isRecord:
		c.grid.IntersectionQuery(region, &recordBridge{b, rv})
	case isNode:
		c.grid.IntersectionQuery(region, &nodeBridge{b, nv})
	default:
		c.grid.IntersectionQuery(region, b)
	}
	return nil
}

// tileBridge adapts a TileVisitor to the grid's visitor, remembering the
// current tile for record callbacks.
type tileBridge struct {
	c   *Cache
	v   TileVisitor
	cur TileInfo
}

func (b *tileBridge) VisitTile(t *grid.Tile) {
	b.cur = TileInfo{
		ID:       t.ID,
		Envelope: t.Envelope,
		Records:  t.Len(),
		Size:     b.c.tracker.SizeOf(t.ID),
	}
	b.c.tracker.Touch(t.ID)
	b.v.VisitTile(b.cur)
}

type recordBridge struct {
	*tileBridge
	rv RecordVisitor
}

func (b *recordBridge) VisitRecord(_ *grid.Tile, ord uint32) {
	b.rv.VisitRecord(b.cur, b.c.grid.Interner().ID(ord))
}

type nodeBridge struct {
	*tileBridge
	nv NodeVisitor
}

func (b *nodeBridge) VisitNode(level uint8, env model.Envelope, validTiles int) {
	b.nv.VisitNode(level, env, validTiles)
}

type fullBridge struct {
	recordBridge
	nv NodeVisitor
}

func (b *fullBridge) VisitNode(level uint8, env model.Envelope, validTiles int) {
	b.nv.VisitNode(level, env, validTiles)
}
