package source

import (
	"context"

	"github.com/hupe1980/tilecache/filter"
	"github.com/hupe1980/tilecache/model"
)

// FeatureSource is the authoritative, slower data provider behind the cache.
// Implementations must be safe for concurrent use.
type FeatureSource interface {
	// Features returns every record whose envelope intersects env.
	Features(ctx context.Context, env model.Envelope) (model.FeatureCollection, error)
	// Count returns the number of records Features would return.
	Count(ctx context.Context, env model.Envelope) (int, error)
}

// BoundedSource knows the extent of its data.
type BoundedSource interface {
	FeatureSource
	// Bounds returns the envelope of all records. ok is false if empty.
	Bounds(ctx context.Context) (env model.Envelope, ok bool, err error)
}

// FilteredSource evaluates filters the cache cannot reduce to a bounding box.
type FilteredSource interface {
	FeatureSource
	FeaturesFiltered(ctx context.Context, f filter.Filter) (model.FeatureCollection, error)
}

// Change describes a modification of the source data.
type Change struct {
	// Envelope covers the old and new extent of every changed record.
	Envelope model.Envelope
	// IDs lists the changed records, if known.
	IDs []model.RecordID
}

// Notifier announces data changes.
type Notifier interface {
	// Subscribe registers fn for every future change and returns a function
	// that cancels the subscription.
	Subscribe(fn func(Change)) (unsubscribe func())
}
