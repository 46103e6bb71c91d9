package grid

import (
	"errors"
	"math"
	"math/bits"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/tilecache/model"
)

// MaxTilesPerAxis bounds the grid resolution.
const MaxTilesPerAxis = 1 << 20

var (
	// ErrInvalidUniverse is returned for an empty, inverted or infinite universe.
	ErrInvalidUniverse = errors.New("grid: universe must be a finite, non-empty envelope")
	// ErrInvalidTileSize is returned for a non-positive tile size or too many tiles.
	ErrInvalidTileSize = errors.New("grid: invalid tile size")
)

const noNode int32 = -1

// Tile is a leaf of the grid.
type Tile struct {
	ID       model.TileID
	Envelope model.Envelope
	// Valid reports whether the tile mirrors the source for its region.
	Valid bool
	// Records holds the ordinals of the records intersecting the tile.
	Records *roaring.Bitmap
}

// Len returns the number of records referenced by the tile.
func (t *Tile) Len() int {
	if t.Records == nil {
		return 0
	}
	return int(t.Records.GetCardinality())
}

// Cell is a tile position returned by Match.
type Cell struct {
	ID         model.TileID
	Envelope   model.Envelope
	Registered bool
}

type node struct {
	parent   int32
	children [4]int32
	col, row uint32 // origin in tile coordinates
	span     uint32 // tiles per side
	level    uint8  // 0 for leaves
	valid    int32  // valid leaves in the subtree
	tile     *Tile
}

// Grid is a quadtree of tiles over a fixed universe.
type Grid struct {
	universe   model.Envelope
	tileSize   float64
	cols, rows uint32
	depth      uint8

	nodes    []node
	interner *Interner
}

// New creates a grid covering universe with square tiles of tileSize.
func New(universe model.Envelope, tileSize float64) (*Grid, error) {
	if !universe.IsValid() || universe.IsZero() ||
		math.IsInf(universe.Width(), 0) || math.IsInf(universe.Height(), 0) ||
		universe.Width() <= 0 || universe.Height() <= 0 {
		return nil, ErrInvalidUniverse
	}
	if !(tileSize > 0) || math.IsInf(tileSize, 0) {
		return nil, ErrInvalidTileSize
	}

	cols := math.Ceil(universe.Width() / tileSize)
	rows := math.Ceil(universe.Height() / tileSize)
	if cols > MaxTilesPerAxis || rows > MaxTilesPerAxis {
		return nil, ErrInvalidTileSize
	}

	g := &Grid{
		universe: universe,
		tileSize: tileSize,
		cols:     uint32(max(cols, 1)),
		rows:     uint32(max(rows, 1)),
		interner: NewInterner(),
	}
	side := max(g.cols, g.rows)
	g.depth = uint8(bits.Len32(side - 1))
	g.reset()
	return g, nil
}

func (g *Grid) reset() {
	g.nodes = g.nodes[:0]
	g.nodes = append(g.nodes, node{
		parent:   noNode,
		children: [4]int32{noNode, noNode, noNode, noNode},
		span:     1 << g.depth,
		level:    g.depth,
	})
	g.interner.Reset()
}

// Universe returns the covered envelope.
func (g *Grid) Universe() model.Envelope { return g.universe }

// TileSize returns the tile edge length.
func (g *Grid) TileSize() float64 { return g.tileSize }

// Dims returns the number of tile columns and rows.
func (g *Grid) Dims() (cols, rows uint32) { return g.cols, g.rows }

// Interner returns the record interner shared by all tiles.
func (g *Grid) Interner() *Interner { return g.interner }

// TileEnvelope returns the closed region of tile (col, row), clipped to the universe.
func (g *Grid) TileEnvelope(col, row uint32) model.Envelope {
	return model.Envelope{
		MinX: g.universe.MinX + float64(col)*g.tileSize,
		MinY: g.universe.MinY + float64(row)*g.tileSize,
		MaxX: min(g.universe.MinX+float64(col+1)*g.tileSize, g.universe.MaxX),
		MaxY: min(g.universe.MinY+float64(row+1)*g.tileSize, g.universe.MaxY),
	}
}

// span returns the inclusive tile range intersecting region under closed
// interval semantics. ok is false if region misses the universe.
func (g *Grid) span(region model.Envelope) (c0, r0, c1, r1 uint32, ok bool) {
	clipped, ok := region.Intersection(g.universe)
	if !ok {
		return 0, 0, 0, 0, false
	}
	c0, c1 = axisRange(clipped.MinX-g.universe.MinX, clipped.MaxX-g.universe.MinX, g.tileSize, g.cols)
	r0, r1 = axisRange(clipped.MinY-g.universe.MinY, clipped.MaxY-g.universe.MinY, g.tileSize, g.rows)
	return c0, r0, c1, r1, true
}

// axisRange maps [a, b] (relative to the universe origin) to tiles t with
// t*ts <= b and (t+1)*ts >= a.
func axisRange(a, b, ts float64, n uint32) (lo, hi uint32) {
	l := math.Ceil(a/ts) - 1
	h := math.Floor(b / ts)
	if l < 0 {
		l = 0
	}
	if h > float64(n-1) {
		h = float64(n - 1)
	}
	if h < l {
		h = l
	}
	return uint32(l), uint32(h)
}

// Match lists every tile intersecting region in row-major order, registered
// or not. It never creates nodes.
func (g *Grid) Match(region model.Envelope) []Cell {
	c0, r0, c1, r1, ok := g.span(region)
	if !ok {
		return nil
	}
	cells := make([]Cell, 0, int(c1-c0+1)*int(r1-r0+1))
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			id := model.TileID{Col: col, Row: row}
			t := g.Tile(id)
			cells = append(cells, Cell{
				ID:         id,
				Envelope:   g.TileEnvelope(col, row),
				Registered: t != nil,
			})
		}
	}
	return cells
}

// CellCount returns the number of tiles Match would list for region.
func (g *Grid) CellCount(region model.Envelope) int64 {
	c0, r0, c1, r1, ok := g.span(region)
	if !ok {
		return 0
	}
	return int64(c1-c0+1) * int64(r1-r0+1)
}

// Covered reports whether every tile intersecting region is registered.
// It stops at the first unregistered tile.
func (g *Grid) Covered(region model.Envelope) bool {
	c0, r0, c1, r1, ok := g.span(region)
	if !ok {
		return true
	}
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			if g.Tile(model.TileID{Col: col, Row: row}) == nil {
				return false
			}
		}
	}
	return true
}

// Tile returns the valid tile with the given id, or nil.
func (g *Grid) Tile(id model.TileID) *Tile {
	idx := g.find(id.Col, id.Row, false)
	if idx == noNode {
		return nil
	}
	if t := g.nodes[idx].tile; t != nil && t.Valid {
		return t
	}
	return nil
}

// find descends to the leaf of (col, row), creating nodes if create is set.
func (g *Grid) find(col, row uint32, create bool) int32 {
	if col >= g.cols || row >= g.rows {
		return noNode
	}
	idx := int32(0)
	for g.nodes[idx].level > 0 {
		n := &g.nodes[idx]
		half := n.span / 2
		q := 0
		cx, cy := n.col, n.row
		if col >= n.col+half {
			q |= 1
			cx += half
		}
		if row >= n.row+half {
			q |= 2
			cy += half
		}
		child := n.children[q]
		if child == noNode {
			if !create {
				return noNode
			}
			child = int32(len(g.nodes))
			level := n.level - 1
			g.nodes[idx].children[q] = child
			g.nodes = append(g.nodes, node{
				parent:   idx,
				children: [4]int32{noNode, noNode, noNode, noNode},
				col:      cx,
				row:      cy,
				span:     half,
				level:    level,
			})
		}
		idx = child
	}
	return idx
}

// bubble adds delta to the valid counter of idx and all its ancestors.
func (g *Grid) bubble(idx int32, delta int32) {
	for idx != noNode {
		g.nodes[idx].valid += delta
		idx = g.nodes[idx].parent
	}
}

// Register marks tile id valid with exactly the given records, replacing any
// previous content. It returns the tile.
func (g *Grid) Register(id model.TileID, records []model.RecordID) *Tile {
	idx := g.find(id.Col, id.Row, true)
	if idx == noNode {
		return nil
	}
	n := &g.nodes[idx]
	if n.tile == nil {
		n.tile = &Tile{
			ID:       id,
			Envelope: g.TileEnvelope(id.Col, id.Row),
			Records:  roaring.New(),
		}
	}
	t := n.tile
	g.release(t)

	for _, rid := range records {
		ord := g.interner.Acquire(rid)
		if !t.Records.CheckedAdd(ord) {
			g.interner.Release(ord)
		}
	}
	if !t.Valid {
		t.Valid = true
		g.bubble(idx, 1)
	}
	return t
}

// Insert adds a record reference to every registered tile its envelope
// intersects. Unregistered tiles are left alone. It returns the tiles that
// gained the reference.
func (g *Grid) Insert(id model.RecordID, env model.Envelope) []model.TileID {
	var added []model.TileID
	g.IntersectionQuery(env, VisitorFunc(func(t *Tile) {
		ord := g.interner.Acquire(id)
		if t.Records.CheckedAdd(ord) {
			added = append(added, t.ID)
		} else {
			g.interner.Release(ord)
		}
	}))
	return added
}

// Invalidate drops tile id, releasing its references. The node stays in the
// arena as an invalid, empty tile.
func (g *Grid) Invalidate(id model.TileID) bool {
	idx := g.find(id.Col, id.Row, false)
	if idx == noNode {
		return false
	}
	t := g.nodes[idx].tile
	if t == nil || !t.Valid {
		return false
	}
	g.release(t)
	t.Valid = false
	g.bubble(idx, -1)
	return true
}

// Remove invalidates every registered tile fully contained in region and
// returns their ids.
func (g *Grid) Remove(region model.Envelope) []model.TileID {
	var ids []model.TileID
	g.IntersectionQuery(region, VisitorFunc(func(t *Tile) {
		if region.Contains(t.Envelope) {
			ids = append(ids, t.ID)
		}
	}))
	for _, id := range ids {
		g.Invalidate(id)
	}
	return ids
}

func (g *Grid) release(t *Tile) {
	it := t.Records.Iterator()
	for it.HasNext() {
		g.interner.Release(it.Next())
	}
	t.Records.Clear()
}

// Len returns the number of registered tiles.
func (g *Grid) Len() int { return int(g.nodes[0].valid) }

// Nodes returns the number of allocated arena nodes.
func (g *Grid) Nodes() int { return len(g.nodes) }

// Clear drops every tile and record reference.
func (g *Grid) Clear() { g.reset() }
