package tilecache

import (
	"log/slog"

	"github.com/hupe1980/tilecache/codec"
)

type options struct {
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	fetchConcurrency int
	coalesce         bool
	maxQueryTiles    int64
}

// DefaultMaxQueryTiles is the default bound on the tiles one query may cover
// before it bypasses the cache.
const DefaultMaxQueryTiles = 1 << 16

func defaultOptions() options {
	return options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		fetchConcurrency: 4,
		coalesce:         true,
		maxQueryTiles:    DefaultMaxQueryTiles,
	}
}

// Option configures cache construction.
type Option func(*options)

// WithCodec configures the codec used to encode records inside tile pages
// when the storage config does not name one.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithFetchConcurrency bounds the number of parallel backing-source calls
// issued by one query. Values below 1 mean 1.
func WithFetchConcurrency(n int) Option {
	return func(o *options) {
		o.fetchConcurrency = max(n, 1)
	}
}

// WithCoalesceFetches controls whether horizontally adjacent missing tiles
// are fetched with a single source call (default true). With coalescing off
// every missing tile is fetched separately.
func WithCoalesceFetches(on bool) Option {
	return func(o *options) {
		o.coalesce = on
	}
}

// WithMaxQueryTiles bounds the number of tiles a single query may cover.
// Queries covering more tiles are answered straight from the source and are
// not cached, and Register fails for such regions. Values below 1 mean
// DefaultMaxQueryTiles.
func WithMaxQueryTiles(n int64) Option {
	return func(o *options) {
		if n < 1 {
			n = DefaultMaxQueryTiles
		}
		o.maxQueryTiles = n
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &tilecache.BasicMetricsCollector{}
//	c, _ := tilecache.New(ctx, src, cfg, tilecache.WithMetricsCollector(metrics))
//	// ... use c ...
//	stats := metrics.GetStats()
//	fmt.Printf("Queries: %d, hit ratio: %.2f\n", stats.QueryCount, stats.HitRatio())
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := tilecache.NewJSONLogger(slog.LevelInfo)
//	c, _ := tilecache.New(ctx, src, cfg, tilecache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}
