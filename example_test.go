package tilecache_test

import (
	"context"
	"fmt"

	"github.com/hupe1980/tilecache"
	"github.com/hupe1980/tilecache/filter"
	"github.com/hupe1980/tilecache/model"
	"github.com/hupe1980/tilecache/source"
)

func Example() {
	ctx := context.Background()

	src := source.NewMemorySource(
		model.NewRecord("a", model.PointEnvelope(10, 10)).With("kind", "road").Build(),
		model.NewRecord("b", model.PointEnvelope(20, 30)).With("kind", "river").Build(),
		model.NewRecord("c", model.PointEnvelope(80, 80)).With("kind", "road").Build(),
	)

	c, err := tilecache.New(ctx, src, tilecache.Config{
		Bounds:   model.NewEnvelope(0, 0, 100, 100),
		TileSize: 50,
		Capacity: 100,
	})
	if err != nil {
		panic(err)
	}
	defer c.Close()

	fc, _ := c.Features(ctx, filter.BBox(model.NewEnvelope(5, 5, 45, 45)))
	fmt.Println(fc.IDs())

	// Served from the registered tile.
	fc, _ = c.Features(ctx, filter.And(
		filter.BBox(model.NewEnvelope(5, 5, 45, 45)),
		filter.Eq("kind", "road"),
	))
	fmt.Println(fc.IDs(), src.Calls().Features)

	// Output:
	// [a b]
	// [a] 1
}

func ExampleCache_FeaturesQuery() {
	ctx := context.Background()

	src := source.NewMemorySource(
		model.NewRecord("a", model.PointEnvelope(10, 10)).With("rank", 3).Build(),
		model.NewRecord("b", model.PointEnvelope(20, 30)).With("rank", 1).Build(),
		model.NewRecord("c", model.PointEnvelope(30, 20)).With("rank", 2).Build(),
	)

	c, _ := tilecache.New(ctx, src, tilecache.Config{
		Bounds:   model.NewEnvelope(0, 0, 100, 100),
		TileSize: 25,
		Capacity: 100,
	})
	defer c.Close()

	fc, _ := c.FeaturesQuery(ctx, tilecache.Query{
		MaxFeatures: 2,
		SortBy:      []tilecache.SortBy{{Property: "rank"}},
	})
	fmt.Println(fc.IDs())

	_, err := c.FeaturesQuery(ctx, tilecache.Query{
		StartIndex: 1,
		SortBy:     []tilecache.SortBy{{Property: "rank"}},
	})
	fmt.Println(err != nil)

	// Output:
	// [b c]
	// true
}
