package tilecache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    queryHistogram prometheus.Histogram
//	    fetchCounter   prometheus.Counter
//	}
//
//	func (p *PrometheusCollector) RecordQuery(tiles, missing int, duration time.Duration, err error) {
//	    p.queryHistogram.Observe(duration.Seconds())
//	}
type MetricsCollector interface {
	// RecordQuery is called after each cached query. tiles is the number of
	// tiles the query touched, missing the number that had to be fetched.
	RecordQuery(tiles, missing int, duration time.Duration, err error)

	// RecordFetch is called after each backing-source call.
	RecordFetch(tiles, records int, duration time.Duration, err error)

	// RecordPut is called after each Put.
	RecordPut(records int, duration time.Duration, err error)

	// RecordEviction is called with the number of tiles evicted by one operation.
	RecordEviction(tiles int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordQuery(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordFetch(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordPut(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordEviction(int)                         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryTotalNanos atomic.Int64
	TilesTouched    atomic.Int64
	TilesMissing    atomic.Int64
	FetchCount      atomic.Int64
	FetchErrors     atomic.Int64
	FetchTotalNanos atomic.Int64
	FetchedRecords  atomic.Int64
	PutCount        atomic.Int64
	PutErrors       atomic.Int64
	PutRecords      atomic.Int64
	EvictedTiles    atomic.Int64
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(tiles, missing int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	b.TilesTouched.Add(int64(tiles))
	b.TilesMissing.Add(int64(missing))
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(tiles, records int, duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchTotalNanos.Add(duration.Nanoseconds())
	b.FetchedRecords.Add(int64(records))
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// RecordPut implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPut(records int, duration time.Duration, err error) {
	b.PutCount.Add(1)
	b.PutRecords.Add(int64(records))
	if err != nil {
		b.PutErrors.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(tiles int) {
	b.EvictedTiles.Add(int64(tiles))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		QueryCount:     b.QueryCount.Load(),
		QueryErrors:    b.QueryErrors.Load(),
		QueryAvgNanos:  avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		TilesTouched:   b.TilesTouched.Load(),
		TilesMissing:   b.TilesMissing.Load(),
		FetchCount:     b.FetchCount.Load(),
		FetchErrors:    b.FetchErrors.Load(),
		FetchAvgNanos:  avg(b.FetchTotalNanos.Load(), b.FetchCount.Load()),
		FetchedRecords: b.FetchedRecords.Load(),
		PutCount:       b.PutCount.Load(),
		PutErrors:      b.PutErrors.Load(),
		PutRecords:     b.PutRecords.Load(),
		EvictedTiles:   b.EvictedTiles.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	QueryCount     int64
	QueryErrors    int64
	QueryAvgNanos  int64
	TilesTouched   int64
	TilesMissing   int64
	FetchCount     int64
	FetchErrors    int64
	FetchAvgNanos  int64
	FetchedRecords int64
	PutCount       int64
	PutErrors      int64
	PutRecords     int64
	EvictedTiles   int64
}

// HitRatio returns the share of touched tiles served from cache.
func (s BasicMetricsStats) HitRatio() float64 {
	if s.TilesTouched == 0 {
		return 0
	}
	return float64(s.TilesTouched-s.TilesMissing) / float64(s.TilesTouched)
}
