package filter

import "github.com/hupe1980/tilecache/model"

// Plan is the result of decomposing a filter into a spatial envelope and a
// residual predicate evaluated against records read from the envelope.
type Plan struct {
	// Envelope bounds every record the filter can match.
	Envelope model.Envelope
	// Residual must still be applied to records in Envelope; nil if none.
	Residual Filter
	// Empty is set when the filter provably matches nothing.
	Empty bool
}

// Decompose extracts a bounding box from f. ok is false when f has no
// spatial bound and must be evaluated against the whole source.
func Decompose(f Filter) (Plan, bool) {
	switch x := f.(type) {
	case nil:
		return Plan{Envelope: model.Everything}, true
	case includeFilter:
		return Plan{Envelope: model.Everything}, true
	case excludeFilter:
		return Plan{Empty: true}, true
	case *BBoxFilter:
		return Plan{Envelope: x.Envelope}, true
	case *AndFilter:
		return decomposeAnd(x)
	case *OrFilter:
		return decomposeOr(x)
	default:
		return Plan{}, false
	}
}

func decomposeAnd(f *AndFilter) (Plan, bool) {
	var (
		env      = model.Everything
		spatial  bool
		residual []Filter
	)

	for _, c := range f.Filters {
		p, ok := Decompose(c)
		if !ok {
			residual = append(residual, c)
			continue
		}
		if p.Empty {
			return Plan{Empty: true}, true
		}
		spatial = true
		in, overlap := env.Intersection(p.Envelope)
		if !overlap {
			return Plan{Empty: true}, true
		}
		env = in
		if p.Residual != nil {
			residual = append(residual, p.Residual)
		}
	}

	if !spatial {
		return Plan{}, false
	}

	plan := Plan{Envelope: env}
	switch len(residual) {
	case 0:
	case 1:
		plan.Residual = residual[0]
	default:
		plan.Residual = And(residual...)
	}
	return plan, true
}

func decomposeOr(f *OrFilter) (Plan, bool) {
	var (
		env   model.Envelope
		found bool
	)

	for _, c := range f.Filters {
		p, ok := Decompose(c)
		if !ok {
			return Plan{}, false
		}
		if p.Empty {
			continue
		}
		if !found {
			env, found = p.Envelope, true
			continue
		}
		env = env.Union(p.Envelope)
	}

	if !found {
		return Plan{Empty: true}, true
	}
	// The union over-covers, so the disjunction itself stays as residual.
	return Plan{Envelope: env, Residual: f}, true
}
