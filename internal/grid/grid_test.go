package grid

import (
	"fmt"
	"testing"

	"github.com/hupe1980/tilecache/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGrid(t *testing.T) *Grid {
	t.Helper()
	g, err := New(model.NewEnvelope(0, 0, 100, 100), 50)
	require.NoError(t, err)
	return g
}

func TestNew_Validation(t *testing.T) {
	_, err := New(model.Envelope{}, 10)
	assert.ErrorIs(t, err, ErrInvalidUniverse)

	_, err = New(model.Everything, 10)
	assert.ErrorIs(t, err, ErrInvalidUniverse)

	_, err = New(model.NewEnvelope(0, 0, 10, 10), 0)
	assert.ErrorIs(t, err, ErrInvalidTileSize)

	_, err = New(model.NewEnvelope(0, 0, 1e9, 1), 1)
	assert.ErrorIs(t, err, ErrInvalidTileSize)

	g, err := New(model.NewEnvelope(0, 0, 25, 10), 10)
	require.NoError(t, err)
	cols, rows := g.Dims()
	assert.Equal(t, uint32(3), cols)
	assert.Equal(t, uint32(1), rows)
	assert.Equal(t, model.NewEnvelope(20, 0, 25, 10), g.TileEnvelope(2, 0))
}

func TestMatch_ClosedIntervals(t *testing.T) {
	g := newGrid(t)

	tests := []struct {
		name   string
		region model.Envelope
		want   []model.TileID
	}{
		{"Interior", model.NewEnvelope(5, 5, 45, 45), []model.TileID{{Col: 0, Row: 0}}},
		{"TouchesBoundary", model.NewEnvelope(5, 5, 50, 45), []model.TileID{{Col: 0, Row: 0}, {Col: 1, Row: 0}}},
		{"Point on corner", model.PointEnvelope(50, 50), []model.TileID{
			{Col: 0, Row: 0}, {Col: 1, Row: 0}, {Col: 0, Row: 1}, {Col: 1, Row: 1},
		}},
		{"Whole", model.NewEnvelope(-10, -10, 200, 200), []model.TileID{
			{Col: 0, Row: 0}, {Col: 1, Row: 0}, {Col: 0, Row: 1}, {Col: 1, Row: 1},
		}},
		{"Outside", model.NewEnvelope(200, 200, 300, 300), nil},
		{"NE", model.NewEnvelope(55, 55, 95, 95), []model.TileID{{Col: 1, Row: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []model.TileID
			for _, c := range g.Match(tt.region) {
				got = append(got, c.ID)
				assert.False(t, c.Registered)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegisterAndQuery(t *testing.T) {
	g := newGrid(t)

	g.Register(model.TileID{Col: 0, Row: 0}, []model.RecordID{"a", "b"})
	g.Register(model.TileID{Col: 1, Row: 0}, []model.RecordID{"b", "c"})
	g.Register(model.TileID{Col: 1, Row: 1}, nil)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, 3, g.Interner().Len())
	ordB, ok := g.Interner().Lookup("b")
	require.True(t, ok)
	assert.Equal(t, 2, g.Interner().Refs(ordB))

	assert.True(t, g.Covered(model.NewEnvelope(5, 5, 95, 45)))
	assert.False(t, g.Covered(model.NewEnvelope(5, 5, 45, 95)))

	// The empty tile is registered too.
	require.NotNil(t, g.Tile(model.TileID{Col: 1, Row: 1}))
	assert.Zero(t, g.Tile(model.TileID{Col: 1, Row: 1}).Len())
	assert.Nil(t, g.Tile(model.TileID{Col: 0, Row: 1}))
	assert.Nil(t, g.Tile(model.TileID{Col: 9, Row: 9}))

	var visited []model.TileID
	g.IntersectionQuery(model.NewEnvelope(0, 0, 100, 100), VisitorFunc(func(t *Tile) {
		visited = append(visited, t.ID)
	}))
	assert.Equal(t, []model.TileID{{Col: 0, Row: 0}, {Col: 1, Row: 0}, {Col: 1, Row: 1}}, visited)
}

type collector struct {
	g     *Grid
	tiles int
	ids   map[model.RecordID]int
	nodes int
}

func (c *collector) VisitTile(*Tile) { c.tiles++ }

func (c *collector) VisitRecord(_ *Tile, ord uint32) { c.ids[c.g.Interner().ID(ord)]++ }

func TestIntersectionQuery_DataVisitor(t *testing.T) {
	g := newGrid(t)
	g.Register(model.TileID{Col: 0, Row: 0}, []model.RecordID{"a", "b"})
	g.Register(model.TileID{Col: 1, Row: 0}, []model.RecordID{"b", "c"})

	c := &collector{g: g, ids: map[model.RecordID]int{}}
	g.IntersectionQuery(model.NewEnvelope(5, 5, 95, 45), c)

	assert.Equal(t, 2, c.tiles)
	// Spanning records are referenced from every tile they touch.
	assert.Equal(t, map[model.RecordID]int{"a": 1, "b": 2, "c": 1}, c.ids)
}

type nodeCounter struct {
	levels []uint8
}

func (n *nodeCounter) VisitTile(*Tile) {}

func (n *nodeCounter) VisitNode(level uint8, _ model.Envelope, valid int) {
	n.levels = append(n.levels, level)
}

func TestIntersectionQuery_NodeVisitorSkipsEmptySubtrees(t *testing.T) {
	g, err := New(model.NewEnvelope(0, 0, 80, 80), 10) // 8x8 tiles, depth 3
	require.NoError(t, err)

	g.Register(model.TileID{Col: 0, Row: 0}, []model.RecordID{"a"})

	nc := &nodeCounter{}
	g.IntersectionQuery(model.NewEnvelope(0, 0, 80, 80), nc)
	// Root, then one node per level down to the single valid leaf.
	assert.Equal(t, []uint8{3, 2, 1}, nc.levels)

	g.Invalidate(model.TileID{Col: 0, Row: 0})
	nc = &nodeCounter{}
	g.IntersectionQuery(model.NewEnvelope(0, 0, 80, 80), nc)
	assert.Empty(t, nc.levels)
}

func TestInsert_OnlyRegisteredTiles(t *testing.T) {
	g := newGrid(t)
	g.Register(model.TileID{Col: 0, Row: 0}, nil)

	added := g.Insert("x", model.NewEnvelope(40, 40, 60, 60))
	assert.Equal(t, []model.TileID{{Col: 0, Row: 0}}, added)

	// Inserting again is a no-op.
	assert.Empty(t, g.Insert("x", model.NewEnvelope(40, 40, 60, 60)))
	ord, _ := g.Interner().Lookup("x")
	assert.Equal(t, 1, g.Interner().Refs(ord))

	assert.Empty(t, g.Insert("y", model.NewEnvelope(60, 60, 70, 70)))
	_, ok := g.Interner().Lookup("y")
	assert.False(t, ok)
}

func TestInvalidateAndRemove(t *testing.T) {
	g := newGrid(t)
	for _, id := range []model.TileID{{Col: 0, Row: 0}, {Col: 1, Row: 0}, {Col: 0, Row: 1}, {Col: 1, Row: 1}} {
		g.Register(id, []model.RecordID{model.RecordID(fmt.Sprintf("r%d%d", id.Col, id.Row)), "shared"})
	}
	shared, _ := g.Interner().Lookup("shared")
	assert.Equal(t, 4, g.Interner().Refs(shared))

	assert.True(t, g.Invalidate(model.TileID{Col: 0, Row: 0}))
	assert.False(t, g.Invalidate(model.TileID{Col: 0, Row: 0}))
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, 3, g.Interner().Refs(shared))
	_, ok := g.Interner().Lookup("r00")
	assert.False(t, ok)

	// Remove only drops tiles fully inside the region.
	removed := g.Remove(model.NewEnvelope(40, 0, 100, 55))
	assert.Equal(t, []model.TileID{{Col: 1, Row: 0}}, removed)
	assert.Equal(t, 2, g.Len())

	// Re-registering an invalidated tile reuses its node.
	nodes := g.Nodes()
	g.Register(model.TileID{Col: 0, Row: 0}, []model.RecordID{"again"})
	assert.Equal(t, nodes, g.Nodes())
	assert.Equal(t, 3, g.Len())

	g.Clear()
	assert.Zero(t, g.Len())
	assert.Zero(t, g.Interner().Len())
	assert.Equal(t, 1, g.Nodes())
}

func TestRegister_ReplacesContent(t *testing.T) {
	g := newGrid(t)
	id := model.TileID{Col: 0, Row: 0}
	g.Register(id, []model.RecordID{"a", "b", "a"})
	assert.Equal(t, 2, g.Tile(id).Len())

	g.Register(id, []model.RecordID{"c"})
	assert.Equal(t, 1, g.Tile(id).Len())
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, 1, g.Interner().Len())
}

func TestInterner_ReusesOrdinals(t *testing.T) {
	in := NewInterner()
	a := in.Acquire("a")
	b := in.Acquire("b")
	assert.NotEqual(t, a, b)

	in.Release(a)
	in.Release(a) // over-release is ignored
	c := in.Acquire("c")
	assert.Equal(t, a, c)
	assert.Equal(t, model.RecordID("c"), in.ID(c))
	assert.Equal(t, 2, in.Len())
}

func TestCellCount(t *testing.T) {
	g, err := New(model.NewEnvelope(0, 0, 100, 100), 50)
	require.NoError(t, err)
	assert.Equal(t, int64(4), g.CellCount(model.NewEnvelope(0, 0, 100, 100)))
	assert.Equal(t, int64(2), g.CellCount(model.NewEnvelope(5, 5, 95, 45)))
	assert.Zero(t, g.CellCount(model.NewEnvelope(200, 200, 300, 300)))

	// A fine grid is counted without listing its cells.
	fine, err := New(model.NewEnvelope(0, 0, 1e4, 1e4), 0.01)
	require.NoError(t, err)
	assert.Equal(t, int64(1e12), fine.CellCount(model.Everything))
	assert.False(t, fine.Covered(model.Everything))
}
