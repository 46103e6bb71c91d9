package tilestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hupe1980/tilecache/blobstore"
	"github.com/hupe1980/tilecache/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	cfgs := map[string]Config{
		"memory":   {Kind: KindMemory},
		"disk":     {Kind: KindDisk, Path: filepath.Join(dir, "disk.db"), Compression: CompressionLZ4},
		"buffered": {Kind: KindBuffered, Path: filepath.Join(dir, "buf.db"), BufferSize: 2048},
		"blob":     {Kind: KindBlob, Blob: blobstore.NewLocalStore(filepath.Join(dir, "blobs")), Prefix: "cache", Compression: CompressionZSTD},
	}

	stores := make(map[string]Store, len(cfgs))
	for name, cfg := range cfgs {
		s, err := Open(cfg)
		require.NoError(t, err, name)
		t.Cleanup(func() { _ = s.Close() })
		stores[name] = s
	}
	return stores
}

func TestStores_Contract(t *testing.T) {
	ctx := context.Background()

	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			id := model.TileID{Col: 3, Row: 7}

			_, err := s.Get(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Zero(t, s.SizeOf(id))

			tile := sampleTile(5)
			require.NoError(t, s.Put(ctx, tile))
			assert.Positive(t, s.SizeOf(id))

			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tile.ID, got.ID)
			assert.Equal(t, model.FeatureCollection(tile.Records).SortedIDs(), model.FeatureCollection(got.Records).SortedIDs())

			// Replacement keeps a single tile.
			require.NoError(t, s.Put(ctx, sampleTile(2)))
			got, err = s.Get(ctx, id)
			require.NoError(t, err)
			assert.Len(t, got.Records, 2)

			st := s.Stats()
			assert.Equal(t, 1, st.Tiles)
			assert.Positive(t, st.Bytes)
			assert.EqualValues(t, 2, st.TilesWritten)
			assert.EqualValues(t, 2, st.TilesRead)

			require.NoError(t, s.Remove(ctx, id))
			require.NoError(t, s.Remove(ctx, id))
			_, err = s.Get(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Zero(t, s.SizeOf(id))

			other := sampleTile(1)
			other.ID = model.TileID{Col: 1}
			require.NoError(t, s.Put(ctx, other))
			require.NoError(t, s.Clear(ctx))
			_, err = s.Get(ctx, other.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Equal(t, Stats{}, s.Stats())
		})
	}
}

func TestDisk_ClearedOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.db")
	ctx := context.Background()

	d, err := OpenDisk(path, DiskOptions{})
	require.NoError(t, err)
	require.NoError(t, d.Put(ctx, sampleTile(1)))
	require.NoError(t, d.Close())

	d, err = OpenDisk(path, DiskOptions{PageSize: 8192})
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Get(ctx, sampleTile(1).ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisk_TempFileRemovedOnClose(t *testing.T) {
	d, err := OpenDisk("", DiskOptions{})
	require.NoError(t, err)
	path := d.Path()
	require.FileExists(t, path)
	require.NoError(t, d.Close())
	assert.NoFileExists(t, path)

	_, err = d.Get(context.Background(), model.TileID{})
	assert.Error(t, err)
}

func TestBuffered_WriteBack(t *testing.T) {
	ctx := context.Background()
	disk, err := OpenDisk(filepath.Join(t.TempDir(), "tiles.db"), DiskOptions{})
	require.NoError(t, err)

	small := sampleTile(1)
	capacity := TileSize(small) * 2
	b := NewBuffered(disk, capacity, nil, nil)
	defer b.Close()

	ids := []model.TileID{{Col: 0}, {Col: 1}, {Col: 2}}
	for _, id := range ids {
		tile := sampleTile(1)
		tile.ID = id
		require.NoError(t, b.Put(ctx, tile))
	}

	// The oldest tile was paged out; the two newest are still in memory.
	tiles, _ := b.Buffered()
	assert.Equal(t, 2, tiles)
	assert.Positive(t, disk.SizeOf(ids[0]))
	assert.Zero(t, disk.SizeOf(ids[2]))

	for _, id := range ids {
		got, err := b.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
	}
	assert.Equal(t, 3, b.Stats().Tiles)

	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, 3, disk.Stats().Tiles)
}

func TestBuffered_OversizedTileWritesThrough(t *testing.T) {
	ctx := context.Background()
	disk, err := OpenDisk(filepath.Join(t.TempDir(), "tiles.db"), DiskOptions{})
	require.NoError(t, err)

	b := NewBuffered(disk, 16, nil, nil)
	defer b.Close()

	require.NoError(t, b.Put(ctx, sampleTile(3)))
	tiles, _ := b.Buffered()
	assert.Zero(t, tiles)
	assert.Positive(t, disk.SizeOf(sampleTile(3).ID))
}

type failingBlobStore struct {
	blobstore.BlobStore
}

func (failingBlobStore) Delete(context.Context, string) error { return errors.New("delete failed") }

func TestBlob_RemoveErrorKeepsAccounting(t *testing.T) {
	ctx := context.Background()
	b := NewBlob(failingBlobStore{blobstore.NewMemoryStore()}, "", PageCodec{})

	tile := sampleTile(1)
	require.NoError(t, b.Put(ctx, tile))
	size := b.SizeOf(tile.ID)

	require.Error(t, b.Remove(ctx, tile.ID))
	assert.Equal(t, size, b.SizeOf(tile.ID))

	_, err := b.Get(ctx, tile.ID)
	assert.NoError(t, err)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(Config{Kind: KindBlob})
	assert.Error(t, err)

	_, err = Open(Config{Kind: Kind(42)})
	assert.Error(t, err)
}
