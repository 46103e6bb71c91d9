package tilecache

import (
	"context"
	"sync"

	"github.com/hupe1980/tilecache/internal/grid"
	"github.com/hupe1980/tilecache/internal/resource"
	"github.com/hupe1980/tilecache/internal/tracker"
	"github.com/hupe1980/tilecache/model"
	"github.com/hupe1980/tilecache/source"
	"github.com/hupe1980/tilecache/tilestore"
)

// Cache is a grid-partitioned cache in front of a feature source.
//
// A single read/write lock guards the grid and the tile store as a unit.
// Fully cached queries share the lock; anything that changes which tiles
// are registered holds it exclusively.
type Cache struct {
	mu sync.RWMutex

	src     source.FeatureSource
	grid    *grid.Grid
	store   tilestore.Store
	tracker *tracker.Tracker
	rc      *resource.Controller

	logger   *Logger
	metrics  MetricsCollector
	coalesce bool
	maxTiles int64

	unsubscribe func()
	closed      bool
}

// New creates a cache over src.
//
// Construction failures (invalid tile size or capacity, missing bounds,
// storage that cannot be opened) are returned as *FeatureCacheError.
func New(ctx context.Context, src source.FeatureSource, cfg Config, optFns ...Option) (*Cache, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}

	if src == nil {
		return nil, constructionError("config", errNilSource)
	}
	if err := cfg.validate(); err != nil {
		return nil, constructionError("config", err)
	}

	universe, err := resolveBounds(ctx, src, cfg)
	if err != nil {
		return nil, constructionError("bounds", err)
	}

	g, err := grid.New(universe, cfg.TileSize)
	if err != nil {
		return nil, constructionError("grid", err)
	}

	storeCfg := cfg.Storage
	if storeCfg.Codec == nil {
		storeCfg.Codec = o.codec
	}
	if storeCfg.Logger == nil {
		storeCfg.Logger = o.logger.Logger
	}
	store, err := tilestore.Open(storeCfg)
	if err != nil {
		return nil, constructionError("storage", err)
	}

	c := &Cache{
		src:   src,
		grid:  g,
		store: store,
		tracker: tracker.New(g, store, tracker.Config{
			Capacity: cfg.Capacity,
			Unit:     cfg.Unit,
			Logger:   o.logger.Logger,
		}),
		rc: resource.NewController(resource.Config{
			MaxConcurrentFetches: int64(o.fetchConcurrency),
		}),
		logger:   o.logger,
		metrics:  o.metricsCollector,
		coalesce: o.coalesce,
		maxTiles: o.maxQueryTiles,
	}

	if n, ok := src.(source.Notifier); ok {
		c.unsubscribe = n.Subscribe(c.onChange)
	}

	return c, nil
}

func (c *Cache) onChange(ch source.Change) {
	// ErrClosed is the only possible error and needs no handling here.
	_ = c.Invalidate(context.Background(), ch.Envelope)
}

// Universe returns the envelope partitioned into tiles.
func (c *Cache) Universe() model.Envelope { return c.grid.Universe() }

// TileSize returns the tile edge length.
func (c *Cache) TileSize() float64 { return c.grid.TileSize() }

// SetRecordAccess controls whether reads and tile visits refresh LRU
// recency. Disable it around maintenance traversals that must not perturb
// the eviction order.
func (c *Cache) SetRecordAccess(on bool) { c.tracker.SetRecordAccess(on) }

// Stats is a snapshot of cache state and counters.
type Stats struct {
	Tiles            int   // registered tiles
	Records          int   // distinct cached records
	Size             int64 // tracked size in Unit
	Capacity         int64
	Unit             CapacityUnit
	Reads            int64 // tiles read from the store for queries
	Writes           int64 // tiles written to the store
	Evictions        int64
	EvictionFailures int64
	Hits             int64 // tiles served from cache
	Misses           int64 // tiles fetched from the source
	Store            tilestore.Stats
}

// Stats returns a snapshot. Counters are reset by Clear.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ts := c.tracker.Stats()
	return Stats{
		Tiles:            ts.Tiles,
		Records:          c.grid.Interner().Len(),
		Size:             ts.Size,
		Capacity:         ts.Capacity,
		Unit:             ts.Unit,
		Reads:            ts.Reads,
		Writes:           ts.Writes,
		Evictions:        ts.Evictions,
		EvictionFailures: ts.EvictionFailures,
		Hits:             ts.Hits,
		Misses:           ts.Misses,
		Store:            c.store.Stats(),
	}
}

// Close unsubscribes from source notifications and closes the tile store.
// Further calls return ErrClosed. Close is idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	return c.store.Close()
}
