package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/hupe1980/tilecache/internal/grid"
	"github.com/hupe1980/tilecache/model"
	"github.com/hupe1980/tilecache/tilestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tileA = model.TileID{Col: 0, Row: 0}
	tileB = model.TileID{Col: 1, Row: 0}
	tileC = model.TileID{Col: 0, Row: 1}
	tileD = model.TileID{Col: 1, Row: 1}
)

func setup(t *testing.T, capacity int64, unit Unit, store tilestore.Store) (*Tracker, *grid.Grid) {
	t.Helper()
	g, err := grid.New(model.NewEnvelope(0, 0, 100, 100), 50)
	require.NoError(t, err)
	if store == nil {
		store = tilestore.NewMemory()
	}
	return New(g, store, Config{Capacity: capacity, Unit: unit}), g
}

func makeTile(g *grid.Grid, id model.TileID, n int) tilestore.Tile {
	env := g.TileEnvelope(id.Col, id.Row)
	tile := tilestore.Tile{ID: id, Envelope: env}
	for i := range n {
		tile.Records = append(tile.Records, model.NewRecord(
			model.RecordID(fmt.Sprintf("%s-%d", id, i)),
			model.PointEnvelope(env.MinX+1, env.MinY+1),
		).Build())
	}
	return tile
}

func TestAdmit_LRUOrder(t *testing.T) {
	ctx := context.Background()
	tr, g := setup(t, 4, Records, nil)

	admit := func(id model.TileID) {
		require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, id, 2)}, []model.TileID{id}))
	}

	admit(tileA)
	admit(tileB)
	assert.Equal(t, int64(4), tr.Total())

	admit(tileC)
	assert.Nil(t, g.Tile(tileA), "A is least recently used")
	assert.Equal(t, []model.TileID{tileC, tileB}, tr.Order())

	admit(tileA)
	assert.Nil(t, g.Tile(tileB), "B is now least recently used")
	assert.Equal(t, []model.TileID{tileA, tileC}, tr.Order())
	assert.LessOrEqual(t, tr.Total(), tr.Capacity())

	st := tr.Stats()
	assert.EqualValues(t, 2, st.Evictions)
	assert.EqualValues(t, 4, st.Writes)
	assert.Equal(t, 2, st.Tiles)
}

func TestTouch_RefreshesRecency(t *testing.T) {
	ctx := context.Background()
	tr, g := setup(t, 4, Records, nil)

	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileA, 2)}, nil))
	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileB, 2)}, nil))

	_, err := tr.Get(ctx, tileA)
	require.NoError(t, err)

	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileC, 2)}, nil))
	assert.NotNil(t, g.Tile(tileA))
	assert.Nil(t, g.Tile(tileB))
}

func TestRecordAccessDisabled(t *testing.T) {
	ctx := context.Background()
	tr, g := setup(t, 4, Records, nil)

	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileA, 2)}, nil))
	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileB, 2)}, nil))

	tr.SetRecordAccess(false)
	assert.False(t, tr.RecordAccess())
	_, err := tr.Get(ctx, tileA)
	require.NoError(t, err)
	_, err = tr.Peek(ctx, tileA)
	require.NoError(t, err)
	tr.SetRecordAccess(true)

	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileC, 2)}, nil))
	assert.Nil(t, g.Tile(tileA))
	assert.NotNil(t, g.Tile(tileB))
}

func TestAdmit_Oversized(t *testing.T) {
	ctx := context.Background()
	store := tilestore.NewMemory()
	tr, g := setup(t, 4, Records, store)

	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileA, 3)}, nil))

	// A pinned tile plus the new one do not fit: nothing changes.
	err := tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileB, 2)}, []model.TileID{tileA, tileB})
	require.ErrorIs(t, err, ErrOversized)
	var oe *OversizedError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, int64(5), oe.Size)
	assert.Equal(t, tileB, oe.Tile)

	assert.Nil(t, g.Tile(tileB))
	assert.Equal(t, 1, store.Stats().Tiles)
	assert.Equal(t, int64(3), tr.Total())

	// Without the pin the older tile makes room.
	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileB, 2)}, []model.TileID{tileB}))
	assert.Nil(t, g.Tile(tileA))
}

type flakyStore struct {
	tilestore.Store
	failRemove atomic.Bool
}

func (f *flakyStore) Remove(ctx context.Context, id model.TileID) error {
	if f.failRemove.Load() {
		return errors.New("disk on fire")
	}
	return f.Store.Remove(ctx, id)
}

func TestEvict_FailureLeavesTileValid(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: tilestore.NewMemory()}
	tr, g := setup(t, 2, Tiles, store)

	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileA, 1)}, nil))
	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileB, 1)}, nil))

	store.failRemove.Store(true)
	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileC, 1)}, []model.TileID{tileC}))

	// Over capacity, but every tile is intact and readable.
	assert.Equal(t, int64(3), tr.Total())
	for _, id := range []model.TileID{tileA, tileB, tileC} {
		require.NotNil(t, g.Tile(id))
		_, err := tr.Peek(ctx, id)
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 2, tr.Stats().EvictionFailures)

	// Retried on the next trigger.
	store.failRemove.Store(false)
	evicted := tr.Evict(ctx, nil)
	assert.Equal(t, []model.TileID{tileA}, evicted)
	assert.Equal(t, int64(2), tr.Total())
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	tr, g := setup(t, 4, Records, nil)

	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileA, 1)}, nil))
	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{makeTile(g, tileB, 1)}, nil))

	// Growing A to 3 records pushes the total to 4: fits.
	require.NoError(t, tr.Replace(ctx, []tilestore.Tile{makeTile(g, tileA, 3)}, []model.TileID{tileA}))
	assert.Equal(t, int64(3), tr.SizeOf(tileA))
	assert.Equal(t, int64(4), tr.Total())

	// A single tile larger than the capacity is rejected and rolled back.
	err := tr.Replace(ctx, []tilestore.Tile{makeTile(g, tileB, 5)}, []model.TileID{tileB})
	require.ErrorIs(t, err, ErrOversized)
	got, err := tr.Peek(ctx, tileB)
	require.NoError(t, err)
	assert.Len(t, got.Records, 1)
	assert.Equal(t, int64(1), tr.SizeOf(tileB))

	// Growing B to 2 evicts the unpinned A.
	require.NoError(t, tr.Replace(ctx, []tilestore.Tile{makeTile(g, tileB, 2)}, []model.TileID{tileB}))
	assert.Nil(t, g.Tile(tileA))
	assert.Equal(t, int64(2), tr.Total())
}

func TestMarkValidDropAndClear(t *testing.T) {
	ctx := context.Background()
	tr, g := setup(t, 1, Tiles, nil)

	empty := []tilestore.Tile{makeTile(g, tileA, 0), makeTile(g, tileD, 0)}
	require.NoError(t, tr.MarkValid(ctx, empty))
	// No eviction bookkeeping: both stay even though capacity is 1.
	assert.Equal(t, 2, tr.Len())
	assert.NotNil(t, g.Tile(tileA))

	tr.Drop(ctx, tileA)
	assert.Nil(t, g.Tile(tileA))
	assert.Equal(t, int64(1), tr.Total())

	_, err := tr.Get(ctx, tileD)
	require.NoError(t, err)
	tr.Missed(3)
	st := tr.Stats()
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 3, st.Misses)

	require.NoError(t, tr.Clear(ctx))
	assert.Equal(t, Stats{Capacity: 1, Unit: Tiles}, tr.Stats())
	assert.Zero(t, g.Len())
}

func TestBytesUnit(t *testing.T) {
	ctx := context.Background()
	store := tilestore.NewMemory()
	tr, g := setup(t, 1<<20, Bytes, store)

	tile := makeTile(g, tileA, 4)
	require.NoError(t, tr.Admit(ctx, []tilestore.Tile{tile}, nil))
	assert.Equal(t, store.SizeOf(tileA), tr.SizeOf(tileA))
	assert.Equal(t, tilestore.TileSize(tile), tr.Total())
}
