// Package source defines the backing feature source the cache fronts.
//
// A FeatureSource answers bounding-box queries with the records whose
// envelopes intersect the box (closed intervals) and can count them. Sources
// may additionally report their extent (BoundedSource), evaluate arbitrary
// filters (FilteredSource) and announce data changes (Notifier).
//
// MemorySource is an in-process implementation with call counters, used by
// tests and examples.
package source
