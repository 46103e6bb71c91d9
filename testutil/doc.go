// Package testutil provides testing utilities for tilecache.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded random generator for records and query envelopes,
// the four-quadrant fixture used by the eviction tests, and a brute-force
// reference for spatial queries.
//
// # Random Records
//
//	rng := testutil.NewRNG(seed)
//	universe := model.NewEnvelope(0, 0, 100, 100)
//	records := rng.Records(500, universe, 5, "r")
//	query := rng.Envelope(universe, 30)
//
// # Ground Truth
//
//	want := testutil.BruteForce(records, query)
//
// # Quadrants
//
//	quads := testutil.Quadrants(universe)          // interior of SW, SE, NW, NE
//	records := testutil.QuadrantRecords(universe, 2) // two records per quadrant
package testutil
