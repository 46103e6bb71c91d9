package grid

import "github.com/hupe1980/tilecache/model"

// Interner maps record ids to dense uint32 ordinals with reference counts.
// An ordinal is released when the last tile referencing it lets go.
type Interner struct {
	ords map[model.RecordID]uint32
	ids  []model.RecordID
	refs []int32
	free []uint32
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{ords: make(map[model.RecordID]uint32)}
}

// Acquire returns the ordinal for id and increments its reference count.
func (in *Interner) Acquire(id model.RecordID) uint32 {
	if ord, ok := in.ords[id]; ok {
		in.refs[ord]++
		return ord
	}

	var ord uint32
	if n := len(in.free); n > 0 {
		ord = in.free[n-1]
		in.free = in.free[:n-1]
		in.ids[ord] = id
		in.refs[ord] = 1
	} else {
		ord = uint32(len(in.ids))
		in.ids = append(in.ids, id)
		in.refs = append(in.refs, 1)
	}
	in.ords[id] = ord
	return ord
}

// Release decrements the reference count of ord and frees it at zero.
func (in *Interner) Release(ord uint32) {
	if int(ord) >= len(in.refs) || in.refs[ord] == 0 {
		return
	}
	in.refs[ord]--
	if in.refs[ord] == 0 {
		delete(in.ords, in.ids[ord])
		in.ids[ord] = ""
		in.free = append(in.free, ord)
	}
}

// Lookup returns the ordinal of id without changing its reference count.
func (in *Interner) Lookup(id model.RecordID) (uint32, bool) {
	ord, ok := in.ords[id]
	return ord, ok
}

// ID returns the record id of a live ordinal.
func (in *Interner) ID(ord uint32) model.RecordID {
	if int(ord) >= len(in.ids) {
		return ""
	}
	return in.ids[ord]
}

// Refs returns the reference count of ord.
func (in *Interner) Refs(ord uint32) int {
	if int(ord) >= len(in.refs) {
		return 0
	}
	return int(in.refs[ord])
}

// Len returns the number of live ordinals.
func (in *Interner) Len() int { return len(in.ords) }

// Reset forgets every ordinal.
func (in *Interner) Reset() {
	clear(in.ords)
	in.ids = in.ids[:0]
	in.refs = in.refs[:0]
	in.free = in.free[:0]
}
