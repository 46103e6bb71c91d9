package source

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/tilecache/filter"
	"github.com/hupe1980/tilecache/model"
)

// Calls counts source invocations.
type Calls struct {
	Features int64
	Count    int64
	Filtered int64
	Bounds   int64
}

// MemorySource is an in-memory FeatureSource. It implements BoundedSource,
// FilteredSource and Notifier.
type MemorySource struct {
	Broadcaster

	mu      sync.RWMutex
	records map[model.RecordID]model.Record
	err     error
	latency time.Duration

	features atomic.Int64
	count    atomic.Int64
	filtered atomic.Int64
	bounds   atomic.Int64
}

var (
	_ BoundedSource  = (*MemorySource)(nil)
	_ FilteredSource = (*MemorySource)(nil)
	_ Notifier       = (*MemorySource)(nil)
)

// NewMemorySource creates a source holding records.
func NewMemorySource(records ...model.Record) *MemorySource {
	s := &MemorySource{records: make(map[model.RecordID]model.Record, len(records))}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

// SetError makes every subsequent query fail with err (nil to recover).
func (s *MemorySource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SetLatency delays every query by d.
func (s *MemorySource) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

func (s *MemorySource) wait(ctx context.Context) error {
	s.mu.RLock()
	latency, err := s.latency, s.err
	s.mu.RUnlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// Features implements FeatureSource. Results are sorted by id.
func (s *MemorySource) Features(ctx context.Context, env model.Envelope) (model.FeatureCollection, error) {
	s.features.Add(1)
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.collect(func(r model.Record) bool { return r.Envelope.Intersects(env) }), nil
}

// Count implements FeatureSource.
func (s *MemorySource) Count(ctx context.Context, env model.Envelope) (int, error) {
	s.count.Add(1)
	if err := s.wait(ctx); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.records {
		if r.Envelope.Intersects(env) {
			n++
		}
	}
	return n, nil
}

// FeaturesFiltered implements FilteredSource.
func (s *MemorySource) FeaturesFiltered(ctx context.Context, f filter.Filter) (model.FeatureCollection, error) {
	s.filtered.Add(1)
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if f == nil {
		f = filter.Include
	}
	return s.collect(f.Evaluate), nil
}

// Bounds implements BoundedSource.
func (s *MemorySource) Bounds(ctx context.Context) (model.Envelope, bool, error) {
	s.bounds.Add(1)
	if err := s.wait(ctx); err != nil {
		return model.Envelope{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var env model.Envelope
	first := true
	for _, r := range s.records {
		if first {
			env, first = r.Envelope, false
			continue
		}
		env = env.Union(r.Envelope)
	}
	return env, !first, nil
}

func (s *MemorySource) collect(keep func(model.Record) bool) model.FeatureCollection {
	s.mu.RLock()
	var out model.FeatureCollection
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	out.SortByID()
	return out
}

// Upsert adds or replaces records and publishes one change.
func (s *MemorySource) Upsert(records ...model.Record) {
	if len(records) == 0 {
		return
	}
	c := Change{}
	s.mu.Lock()
	for i, r := range records {
		env := r.Envelope
		if old, ok := s.records[r.ID]; ok {
			env = env.Union(old.Envelope)
		}
		if i == 0 {
			c.Envelope = env
		} else {
			c.Envelope = c.Envelope.Union(env)
		}
		c.IDs = append(c.IDs, r.ID)
		s.records[r.ID] = r
	}
	s.mu.Unlock()

	s.Publish(c)
}

// Delete removes records and publishes one change covering them.
func (s *MemorySource) Delete(ids ...model.RecordID) {
	c := Change{}
	found := false
	s.mu.Lock()
	for _, id := range ids {
		old, ok := s.records[id]
		if !ok {
			continue
		}
		if !found {
			c.Envelope, found = old.Envelope, true
		} else {
			c.Envelope = c.Envelope.Union(old.Envelope)
		}
		c.IDs = append(c.IDs, id)
		delete(s.records, id)
	}
	s.mu.Unlock()

	if found {
		s.Publish(c)
	}
}

// Len returns the number of records.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Calls returns the invocation counters.
func (s *MemorySource) Calls() Calls {
	return Calls{
		Features: s.features.Load(),
		Count:    s.count.Load(),
		Filtered: s.filtered.Load(),
		Bounds:   s.bounds.Load(),
	}
}

// ResetCalls zeroes the invocation counters.
func (s *MemorySource) ResetCalls() {
	s.features.Store(0)
	s.count.Store(0)
	s.filtered.Store(0)
	s.bounds.Store(0)
}
