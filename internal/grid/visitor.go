package grid

import "github.com/hupe1980/tilecache/model"

// Visitor is called once per registered tile intersecting a query region.
type Visitor interface {
	VisitTile(t *Tile)
}

// DataVisitor additionally receives every record ordinal of a visited tile.
type DataVisitor interface {
	Visitor
	VisitRecord(t *Tile, ord uint32)
}

// NodeVisitor additionally receives every interior node entered during a
// traversal, for drawing and debugging.
type NodeVisitor interface {
	Visitor
	VisitNode(level uint8, env model.Envelope, validTiles int)
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(t *Tile)

// VisitTile implements Visitor.
func (f VisitorFunc) VisitTile(t *Tile) { f(t) }

// IntersectionQuery visits every registered tile whose region intersects
// region. Subtrees without a registered tile are skipped. The order is
// depth-first with children in (SW, SE, NW, NE) order, so it is fixed for a
// given tree.
func (g *Grid) IntersectionQuery(region model.Envelope, v Visitor) {
	if _, ok := region.Intersection(g.universe); !ok {
		return
	}
	dv, _ := v.(DataVisitor)
	nv, _ := v.(NodeVisitor)
	g.visit(0, region, v, dv, nv)
}

func (g *Grid) visit(idx int32, region model.Envelope, v Visitor, dv DataVisitor, nv NodeVisitor) {
	n := &g.nodes[idx]
	if n.valid == 0 {
		return
	}
	if n.level == 0 {
		t := n.tile
		if !t.Valid || !region.Intersects(t.Envelope) {
			return
		}
		v.VisitTile(t)
		if dv != nil {
			it := t.Records.Iterator()
			for it.HasNext() {
				dv.VisitRecord(t, it.Next())
			}
		}
		return
	}

	env := g.nodeEnvelope(n)
	if !region.Intersects(env) {
		return
	}
	if nv != nil {
		nv.VisitNode(n.level, env, int(n.valid))
	}
	for _, child := range n.children {
		if child != noNode {
			g.visit(child, region, v, dv, nv)
		}
	}
}

func (g *Grid) nodeEnvelope(n *node) model.Envelope {
	return model.Envelope{
		MinX: g.universe.MinX + float64(n.col)*g.tileSize,
		MinY: g.universe.MinY + float64(n.row)*g.tileSize,
		MaxX: min(g.universe.MinX+float64(n.col+n.span)*g.tileSize, g.universe.MaxX),
		MaxY: min(g.universe.MinY+float64(n.row+n.span)*g.tileSize, g.universe.MaxY),
	}
}
