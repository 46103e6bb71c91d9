package sqlsource

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/hupe1980/tilecache/model"
	"github.com/hupe1980/tilecache/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openSource(t *testing.T) *Source {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "features.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db, "features")
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(context.Background()))
	return s
}

func TestNew_RejectsBadTable(t *testing.T) {
	_, err := New(nil, "features; DROP TABLE x")
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestSource_Queries(t *testing.T) {
	ctx := context.Background()
	s := openSource(t)

	_, ok, err := s.Bounds(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Upsert(ctx,
		model.NewRecord("b", model.NewEnvelope(10, 10, 12, 12)).With("kind", "river").Build(),
		model.NewRecord("a", model.NewEnvelope(1, 1, 2, 2)).With("kind", "road").With("lanes", 2).Build(),
		model.NewRecord("c", model.NewEnvelope(5, 5, 15, 15)).Build(),
	))

	fc, err := s.Features(ctx, model.NewEnvelope(0, 0, 5, 5))
	require.NoError(t, err)
	assert.Equal(t, []model.RecordID{"a", "c"}, fc.IDs())
	assert.Equal(t, "road", fc[0].Attributes["kind"])
	assert.Equal(t, float64(2), fc[0].Attributes["lanes"])
	assert.Nil(t, fc[1].Attributes)

	fc, err = s.Features(ctx, model.Everything)
	require.NoError(t, err)
	assert.Equal(t, []model.RecordID{"a", "b", "c"}, fc.IDs())

	n, err := s.Count(ctx, model.NewEnvelope(11, 11, 20, 20))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	env, ok, err := s.Bounds(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.NewEnvelope(1, 1, 15, 15), env)
}

func TestSource_Notifications(t *testing.T) {
	ctx := context.Background()
	s := openSource(t)

	var changes []source.Change
	defer s.Subscribe(func(c source.Change) { changes = append(changes, c) })()

	require.NoError(t, s.Upsert(ctx, model.NewRecord("a", model.NewEnvelope(1, 1, 2, 2)).Build()))
	require.NoError(t, s.Upsert(ctx, model.NewRecord("a", model.NewEnvelope(8, 8, 9, 9)).Build()))
	require.NoError(t, s.Delete(ctx, "a", "ghost"))
	require.NoError(t, s.Delete(ctx, "ghost"))

	require.Len(t, changes, 3)
	assert.Equal(t, model.NewEnvelope(1, 1, 2, 2), changes[0].Envelope)
	assert.Equal(t, model.NewEnvelope(1, 1, 9, 9), changes[1].Envelope)
	assert.Equal(t, model.NewEnvelope(8, 8, 9, 9), changes[2].Envelope)
	assert.Equal(t, []model.RecordID{"a"}, changes[2].IDs)

	n, err := s.Count(ctx, model.Everything)
	require.NoError(t, err)
	assert.Zero(t, n)
}
