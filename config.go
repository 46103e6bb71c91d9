package tilecache

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/tilecache/internal/tracker"
	"github.com/hupe1980/tilecache/model"
	"github.com/hupe1980/tilecache/source"
	"github.com/hupe1980/tilecache/tilestore"
)

// CapacityUnit selects what Config.Capacity counts.
type CapacityUnit = tracker.Unit

const (
	// UnitRecords counts record references (a record spanning two tiles counts twice).
	UnitRecords = tracker.Records
	// UnitTiles counts registered tiles.
	UnitTiles = tracker.Tiles
	// UnitBytes counts encoded tile bytes as reported by the store.
	UnitBytes = tracker.Bytes
)

// Config holds the immutable construction parameters of a Cache.
type Config struct {
	// Bounds is the universe partitioned into tiles. It must cover the
	// source data. If zero, the bounds of a source.BoundedSource are used.
	Bounds model.Envelope

	// TileSize is the edge length of a tile in universe units.
	TileSize float64

	// Capacity is the maximum tracked size, counted in Unit.
	Capacity int64

	// Unit selects what Capacity counts. Defaults to UnitRecords.
	Unit CapacityUnit

	// Storage selects the tile store backend. Defaults to memory.
	Storage tilestore.Config
}

func (cfg Config) validate() error {
	if !(cfg.TileSize > 0) || math.IsInf(cfg.TileSize, 0) {
		return fmt.Errorf("tile size must be positive, got %g", cfg.TileSize)
	}
	if cfg.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.Unit > UnitBytes {
		return fmt.Errorf("unknown capacity unit %d", cfg.Unit)
	}
	return nil
}

// resolveBounds returns the universe for cfg, asking src when Bounds is
// zero. A degenerate extent is grown by half a tile on each side.
func resolveBounds(ctx context.Context, src source.FeatureSource, cfg Config) (model.Envelope, error) {
	env := cfg.Bounds
	if env.IsZero() {
		bs, ok := src.(source.BoundedSource)
		if !ok {
			return model.Envelope{}, errors.New("bounds not configured and source does not report them")
		}
		b, ok, err := bs.Bounds(ctx)
		if err != nil {
			return model.Envelope{}, fmt.Errorf("source bounds: %w", err)
		}
		if !ok {
			return model.Envelope{}, errors.New("bounds not configured and source is empty")
		}
		env = b
	}
	if !env.IsValid() || math.IsInf(env.Width(), 0) || math.IsInf(env.Height(), 0) {
		return model.Envelope{}, fmt.Errorf("invalid bounds %s", env)
	}
	if env.Width() == 0 || env.Height() == 0 {
		half := cfg.TileSize / 2
		if env.Width() == 0 {
			env.MinX -= half
			env.MaxX += half
		}
		if env.Height() == 0 {
			env.MinY -= half
			env.MaxY += half
		}
	}
	return env, nil
}
