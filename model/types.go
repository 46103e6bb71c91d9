package model

import (
	"encoding/binary"
	"fmt"
	"slices"
)

// RecordID is the backing source's own record identifier.
// It must be stable across fetches of the same record.
type RecordID string

// Record is the unit stored inside a tile and returned to callers.
//
// Attributes are opaque to the cache except for projection and sorting in
// query execution; the envelope is the only field the cache inspects.
type Record struct {
	ID         RecordID       `json:"id"`
	Envelope   Envelope       `json:"env"`
	Attributes map[string]any `json:"attrs,omitempty"`
}

// Get returns the attribute value for name.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.Attributes[name]
	return v, ok
}

// Project returns a copy of r that carries only the named attributes.
// An empty list keeps every attribute.
func (r Record) Project(names []string) Record {
	if len(names) == 0 {
		return r
	}
	out := Record{ID: r.ID, Envelope: r.Envelope}
	for _, name := range names {
		if v, ok := r.Attributes[name]; ok {
			if out.Attributes == nil {
				out.Attributes = make(map[string]any, len(names))
			}
			out.Attributes[name] = v
		}
	}
	return out
}

// ApproxSize estimates the in-memory footprint of the record in bytes.
func (r Record) ApproxSize() int64 {
	size := int64(32 + 16 + len(r.ID))
	for k, v := range r.Attributes {
		size += int64(16+len(k)) + approxValueSize(v)
	}
	return size
}

func approxValueSize(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return int64(16 + len(x))
	case []byte:
		return int64(24 + len(x))
	case int, int64, uint64, float64, uint, int32, uint32, float32:
		return 8
	case []any:
		var n int64 = 24
		for _, e := range x {
			n += approxValueSize(e)
		}
		return n
	case map[string]any:
		var n int64 = 48
		for k, e := range x {
			n += int64(16+len(k)) + approxValueSize(e)
		}
		return n
	default:
		return 16
	}
}

// RecordBuilder builds records fluently.
type RecordBuilder struct {
	rec Record
}

// NewRecord starts building a record.
func NewRecord(id RecordID, env Envelope) *RecordBuilder {
	return &RecordBuilder{rec: Record{ID: id, Envelope: env}}
}

// With sets an attribute.
func (b *RecordBuilder) With(name string, value any) *RecordBuilder {
	if b.rec.Attributes == nil {
		b.rec.Attributes = make(map[string]any)
	}
	b.rec.Attributes[name] = value
	return b
}

// Build returns the record.
func (b *RecordBuilder) Build() Record {
	return b.rec
}

// FeatureCollection is an ordered set of records without duplicate ids.
type FeatureCollection []Record

// Len returns the number of records.
func (fc FeatureCollection) Len() int { return len(fc) }

// IDs returns the record ids in collection order.
func (fc FeatureCollection) IDs() []RecordID {
	ids := make([]RecordID, len(fc))
	for i, r := range fc {
		ids[i] = r.ID
	}
	return ids
}

// SortedIDs returns the record ids in ascending order.
func (fc FeatureCollection) SortedIDs() []RecordID {
	ids := fc.IDs()
	slices.Sort(ids)
	return ids
}

// Bounds returns the union of all record envelopes. ok is false for an empty
// collection.
func (fc FeatureCollection) Bounds() (env Envelope, ok bool) {
	for i, r := range fc {
		if i == 0 {
			env = r.Envelope
			continue
		}
		env = env.Union(r.Envelope)
	}
	return env, len(fc) > 0
}

// SortByID orders the collection by ascending record id in place.
func (fc FeatureCollection) SortByID() {
	slices.SortFunc(fc, func(a, b Record) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
}

// TileID addresses a grid cell. Level is the depth of the cell in the grid
// hierarchy; Col and Row count from the universe's minimum corner.
type TileID struct {
	Level uint8
	Col   uint32
	Row   uint32
}

// String returns "level/col/row".
func (t TileID) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Level, t.Col, t.Row)
}

// Key returns a 9-byte big-endian key that sorts by level, column, then row.
func (t TileID) Key() []byte {
	k := make([]byte, 9)
	k[0] = t.Level
	binary.BigEndian.PutUint32(k[1:], t.Col)
	binary.BigEndian.PutUint32(k[5:], t.Row)
	return k
}

// TileIDFromKey parses a key produced by Key.
func TileIDFromKey(k []byte) (TileID, bool) {
	if len(k) != 9 {
		return TileID{}, false
	}
	return TileID{
		Level: k[0],
		Col:   binary.BigEndian.Uint32(k[1:]),
		Row:   binary.BigEndian.Uint32(k[5:]),
	}, true
}
