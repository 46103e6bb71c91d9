// Package model defines core types used throughout tilecache.
//
// # Geometry
//
//   - Envelope: axis-aligned bounding box over a 2D real-valued universe.
//     Intersection tests use closed intervals: touching boundaries intersect.
//
// # Identity Types
//
//   - RecordID: the backing source's stable record identifier (string)
//   - TileID: grid cell address (Level, Col, Row)
//
// # Data Types
//
//   - Record: an opaque feature payload with a spatial envelope
//   - FeatureCollection: an ordered set of records
//
// # Record Builder
//
// Use the fluent API to construct records:
//
//	rec := model.NewRecord("road.17", model.NewEnvelope(0, 0, 10, 2)).
//	    With("name", "Main St").
//	    With("lanes", 2).
//	    Build()
package model
