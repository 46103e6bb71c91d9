package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "tiles")
	require.NoError(t, lfs.MkdirAll(dir, 0755))

	fpath := filepath.Join(dir, "0-1-2.tile")
	require.NoError(t, WriteFileAtomic(lfs, fpath, []byte("hello"), 0644))

	data, err := lfs.ReadFile(fpath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := lfs.Stat(fpath)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	entries, err := lfs.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be renamed away")

	require.NoError(t, lfs.Remove(fpath))
	_, err = lfs.Stat(fpath)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFS_Rules(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	custom := errors.New("disk on fire")

	keep := filepath.Join(tmp, "keep.tile")
	bad := filepath.Join(tmp, "bad.tile")
	require.NoError(t, WriteFileAtomic(ffs, keep, []byte("a"), 0644))
	require.NoError(t, WriteFileAtomic(ffs, bad, []byte("b"), 0644))

	ffs.AddRule("bad", Fault{FailAfterBytes: -1, FailOnRemove: true, FailOnRead: true, Err: custom})

	_, err := ffs.ReadFile(bad)
	assert.ErrorIs(t, err, custom)
	assert.ErrorIs(t, ffs.Remove(bad), custom)

	_, err = ffs.ReadFile(keep)
	assert.NoError(t, err)
	assert.NoError(t, ffs.Remove(keep))

	ffs.ClearRules()
	assert.NoError(t, ffs.Remove(bad))
}

func TestFaultyFS_WriteLimit(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("torn", Fault{FailAfterBytes: 2})

	target := filepath.Join(tmp, "torn.tile")
	err := WriteFileAtomic(ffs, target, []byte("too long"), 0644)
	assert.ErrorIs(t, err, ErrInjected)

	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err), "failed atomic write must not leave the target behind")
}

func TestFaultyFS_Sync(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("sync", Fault{FailAfterBytes: -1, FailOnSync: true})

	err := WriteFileAtomic(ffs, filepath.Join(tmp, "sync.tile"), []byte("x"), 0644)
	assert.ErrorIs(t, err, ErrInjected)
}
