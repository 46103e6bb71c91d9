// Package grid implements the hierarchical tile index of the cache.
//
// The universe is cut into square tiles of a fixed size. Tiles are the leaves
// of a quadtree built over the tile grid padded to a power of two, so any
// tile is found in O(log n) and whole subtrees without a valid tile are
// skipped by region queries.
//
// Nodes live in an arena and refer to each other by index: parents own their
// children slots, children keep a plain parent index used only to bubble
// validity counts upwards. Tiles hold references to records as roaring
// bitmaps of ordinals handed out by a shared Interner.
//
// Grid is not safe for concurrent mutation; the cache serializes writers.
package grid
