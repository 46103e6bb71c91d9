package testutil

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/tilecache/model"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// envelope draws a box inside universe with sides up to maxExtent.
// Callers hold r.mu.
func (r *RNG) envelope(universe model.Envelope, maxExtent float64) model.Envelope {
	w := r.rand.Float64() * min(maxExtent, universe.Width())
	h := r.rand.Float64() * min(maxExtent, universe.Height())
	x := universe.MinX + r.rand.Float64()*(universe.Width()-w)
	y := universe.MinY + r.rand.Float64()*(universe.Height()-h)
	return model.Envelope{MinX: x, MinY: y, MaxX: x + w, MaxY: y + h}
}

// Envelope returns a random box inside universe with sides up to maxExtent.
func (r *RNG) Envelope(universe model.Envelope, maxExtent float64) model.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.envelope(universe, maxExtent)
}

// Records generates n records with random envelopes inside universe. Ids
// are prefix-00000, prefix-00001, ... so they sort in generation order.
// Every record carries an "n" (int) and a "kind" (string) attribute.
func (r *RNG) Records(n int, universe model.Envelope, maxExtent float64, prefix string) []model.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := []string{"road", "river", "building", "park"}
	records := make([]model.Record, n)
	for i := range n {
		records[i] = model.NewRecord(model.RecordID(fmt.Sprintf("%s-%05d", prefix, i)), r.envelope(universe, maxExtent)).
			With("n", i).
			With("kind", kinds[r.rand.Intn(len(kinds))]).
			Build()
	}
	return records
}

// Quadrants returns the interiors of the four quadrants of universe in
// SW, SE, NW, NE order. Each is shrunk by a tenth of the quadrant size on
// every side so that it touches no quadrant boundary.
func Quadrants(universe model.Envelope) [4]model.Envelope {
	hw, hh := universe.Width()/2, universe.Height()/2
	mx, my := hw/10, hh/10
	quad := func(x, y float64) model.Envelope {
		return model.Envelope{MinX: x + mx, MinY: y + my, MaxX: x + hw - mx, MaxY: y + hh - my}
	}
	return [4]model.Envelope{
		quad(universe.MinX, universe.MinY),
		quad(universe.MinX+hw, universe.MinY),
		quad(universe.MinX, universe.MinY+hh),
		quad(universe.MinX+hw, universe.MinY+hh),
	}
}

// QuadrantRecords places perQuadrant point records on the diagonal of each
// quadrant interior. Ids are q<quadrant>-<index>, quadrants numbered 1 to 4
// in SW, SE, NW, NE order.
func QuadrantRecords(universe model.Envelope, perQuadrant int) []model.Record {
	var records []model.Record
	for qi, q := range Quadrants(universe) {
		for j := range perQuadrant {
			f := float64(j+1) / float64(perQuadrant+1)
			x := q.MinX + f*q.Width()
			y := q.MinY + f*q.Height()
			records = append(records, model.NewRecord(
				model.RecordID(fmt.Sprintf("q%d-%d", qi+1, j)),
				model.PointEnvelope(x, y),
			).With("quadrant", qi+1).Build())
		}
	}
	return records
}

// BruteForce returns the sorted ids of the records intersecting env.
func BruteForce(records []model.Record, env model.Envelope) []model.RecordID {
	ids := []model.RecordID{}
	for _, r := range records {
		if r.Envelope.Intersects(env) {
			ids = append(ids, r.ID)
		}
	}
	slices.Sort(ids)
	return ids
}
