// Package filter provides the predicates accepted by the cache's query surface.
//
// A filter is decomposable when a bounding box can be extracted from it; the
// cache serves decomposable filters from its tiles and evaluates whatever is
// left (the residual) in memory. Filters without a spatial component bypass the
// cache and are answered by the backing source.
//
//	f := filter.And(
//	    filter.BBox(model.NewEnvelope(0, 0, 10, 10)),
//	    filter.Gte("lanes", 2),
//	)
//	plan, ok := filter.Decompose(f) // plan.Envelope = bbox, plan.Residual = lanes >= 2
package filter
