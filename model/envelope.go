package model

import (
	"fmt"
	"math"
)

// Envelope is an axis-aligned bounding box.
//
// A valid envelope satisfies MinX <= MaxX and MinY <= MaxY. A point is an
// envelope with zero width and height.
type Envelope struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
}

// NewEnvelope returns the envelope spanned by the two corners, normalizing the
// ordinates so the result is always valid.
func NewEnvelope(x1, y1, x2, y2 float64) Envelope {
	return Envelope{
		MinX: math.Min(x1, x2),
		MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2),
		MaxY: math.Max(y1, y2),
	}
}

// PointEnvelope returns the degenerate envelope of a single point.
func PointEnvelope(x, y float64) Envelope {
	return Envelope{MinX: x, MinY: y, MaxX: x, MaxY: y}
}

// Everything is an envelope covering the whole real plane. Sources receive it
// when the cache delegates a query that has no spatial bound.
var Everything = Envelope{
	MinX: math.Inf(-1),
	MinY: math.Inf(-1),
	MaxX: math.Inf(1),
	MaxY: math.Inf(1),
}

// IsValid reports whether the envelope is well-formed.
func (e Envelope) IsValid() bool {
	if math.IsNaN(e.MinX) || math.IsNaN(e.MinY) || math.IsNaN(e.MaxX) || math.IsNaN(e.MaxY) {
		return false
	}
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

// IsZero reports whether the envelope is the zero value.
func (e Envelope) IsZero() bool {
	return e == Envelope{}
}

// Width returns MaxX - MinX.
func (e Envelope) Width() float64 { return e.MaxX - e.MinX }

// Height returns MaxY - MinY.
func (e Envelope) Height() float64 { return e.MaxY - e.MinY }

// Area returns the envelope area.
func (e Envelope) Area() float64 { return e.Width() * e.Height() }

// Intersects reports whether the closed boxes share at least one point.
func (e Envelope) Intersects(o Envelope) bool {
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX &&
		e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Contains reports whether o lies entirely within e (boundaries included).
func (e Envelope) Contains(o Envelope) bool {
	return e.MinX <= o.MinX && o.MaxX <= e.MaxX &&
		e.MinY <= o.MinY && o.MaxY <= e.MaxY
}

// ContainsPoint reports whether the point lies within e.
func (e Envelope) ContainsPoint(x, y float64) bool {
	return e.MinX <= x && x <= e.MaxX && e.MinY <= y && y <= e.MaxY
}

// Intersection returns the overlapping region. ok is false if the envelopes
// are disjoint.
func (e Envelope) Intersection(o Envelope) (Envelope, bool) {
	if !e.Intersects(o) {
		return Envelope{}, false
	}
	return Envelope{
		MinX: math.Max(e.MinX, o.MinX),
		MinY: math.Max(e.MinY, o.MinY),
		MaxX: math.Min(e.MaxX, o.MaxX),
		MaxY: math.Min(e.MaxY, o.MaxY),
	}, true
}

// Union returns the smallest envelope containing both e and o.
func (e Envelope) Union(o Envelope) Envelope {
	return Envelope{
		MinX: math.Min(e.MinX, o.MinX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MaxY: math.Max(e.MaxY, o.MaxY),
	}
}

// Expand grows the envelope by d on every side.
func (e Envelope) Expand(d float64) Envelope {
	return Envelope{MinX: e.MinX - d, MinY: e.MinY - d, MaxX: e.MaxX + d, MaxY: e.MaxY + d}
}

// String returns a compact representation.
func (e Envelope) String() string {
	return fmt.Sprintf("Env[%g:%g, %g:%g]", e.MinX, e.MaxX, e.MinY, e.MaxY)
}
