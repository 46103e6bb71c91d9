// Package tilecache provides a grid-partitioned spatial feature cache for Go.
//
// A Cache fronts a slow, authoritative feature source (a database, a web
// service, a file). The universe is partitioned into square tiles. A query
// is answered from the tiles that are already registered, and only the
// missing tiles are fetched from the source. Tiles are evicted in least
// recently used order once the configured capacity is exceeded.
//
// # Quick Start
//
//	src := source.NewMemorySource(records...)
//	c, _ := tilecache.New(ctx, src, tilecache.Config{
//	    TileSize: 10,
//	    Capacity: 10_000,
//	    Unit:     tilecache.UnitRecords,
//	})
//	defer c.Close()
//
//	fc, _ := c.Features(ctx, filter.BBox(model.NewEnvelope(0, 0, 25, 25)))
//
// # Filters
//
// Any filter that can be reduced to a bounding box (BBox, And with a BBox
// operand, Or of BBoxes) is served through the tiles; the remainder of the
// filter is evaluated against the cached records. Filters without a spatial
// bound bypass the cache and go straight to the source.
//
//	f := filter.And(
//	    filter.BBox(model.NewEnvelope(0, 0, 50, 50)),
//	    filter.Eq("kind", "road"),
//	)
//	fc, _ := c.Features(ctx, f)
//
// # Queries
//
// FeaturesQuery adds projection, limits and sort order:
//
//	fc, _ := c.FeaturesQuery(ctx, tilecache.Query{
//	    Filter:      f,
//	    Properties:  []string{"name"},
//	    MaxFeatures: 100,
//	    SortBy:      []tilecache.SortBy{{Property: "name"}},
//	})
//
// A start index combined with a sort order is rejected with
// ErrUnsupportedQuery.
//
// # Storage
//
// Tile contents live in a tilestore.Store selected by Config.Storage:
//
//	tilestore.KindMemory    // records held in memory
//	tilestore.KindDisk      // bbolt file, one page per tile
//	tilestore.KindBuffered  // write-back memory buffer over the disk store
//	tilestore.KindBlob      // object storage (local, S3, MinIO)
//
// # Capacity
//
// Capacity is counted in records, tiles or encoded bytes (Config.Unit). The
// tiles a single query touches are never evicted by that query; if they
// alone exceed the capacity, the records are returned without being cached.
//
// # Concurrency
//
// A Cache is safe for concurrent use. Queries whose tiles are all
// registered run under a shared lock; fetching, Put, Register, Remove,
// Invalidate and Clear take the lock exclusively.
//
// # Change Notifications
//
// If the source implements source.Notifier, the cache drops every tile that
// intersects a reported change.
package tilecache
