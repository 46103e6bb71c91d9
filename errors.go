package tilecache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/tilecache/internal/tracker"
	"github.com/hupe1980/tilecache/model"
)

var (
	// ErrCacheOversized is returned when records cannot fit the cache capacity.
	ErrCacheOversized = errors.New("cache oversized")

	// ErrUnsupportedQuery is returned for query shapes the cache refuses,
	// such as a start index combined with sort order.
	ErrUnsupportedQuery = errors.New("unsupported query")

	// ErrRegionTooLarge is returned when a region covers more tiles than
	// one operation may touch.
	ErrRegionTooLarge = errors.New("region covers too many tiles")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache closed")

	errNilSource = errors.New("source is nil")
)

// CacheOversizedError reports a write whose tiles exceed the capacity.
//
// It matches ErrCacheOversized with errors.Is. The original underlying error
// (if any) can be accessed via errors.Unwrap.
type CacheOversizedError struct {
	Tile     model.TileID
	Size     int64
	Capacity int64
	Unit     CapacityUnit
	cause    error
}

func (e *CacheOversizedError) Error() string {
	return fmt.Sprintf("cache oversized: %d %s exceed capacity %d (tile %s)", e.Size, e.Unit, e.Capacity, e.Tile)
}

func (e *CacheOversizedError) Unwrap() error { return e.cause }

// Is reports whether target is ErrCacheOversized.
func (e *CacheOversizedError) Is(target error) bool { return target == ErrCacheOversized }

// FeatureCacheError wraps a failure to construct the cache.
//
// The original underlying error can be accessed via errors.Unwrap.
type FeatureCacheError struct {
	Op    string
	cause error
}

func (e *FeatureCacheError) Error() string {
	return fmt.Sprintf("tilecache: %s: %v", e.Op, e.cause)
}

func (e *FeatureCacheError) Unwrap() error { return e.cause }

func constructionError(op string, err error) error {
	return &FeatureCacheError{Op: op, cause: err}
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var oe *tracker.OversizedError
	if errors.As(err, &oe) {
		return &CacheOversizedError{Tile: oe.Tile, Size: oe.Size, Capacity: oe.Capacity, Unit: oe.Unit, cause: err}
	}

	return err
}
