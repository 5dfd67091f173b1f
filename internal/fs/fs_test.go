package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	assert.NoError(t, f.Close())

	entries, err := lfs.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, lfs.Chtimes(fpath, mtime, mtime))
	info, err = lfs.Stat(fpath)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))

	newPath := filepath.Join(dir, "renamed.txt")
	assert.NoError(t, lfs.Rename(fpath, newPath))
	assert.NoError(t, lfs.Remove(newPath))
	_, err = lfs.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFS_GlobalLimit(t *testing.T) {
	ffs := NewFaultyFS(LocalFS{})
	ffs.SetLimit(5)

	fpath := filepath.Join(t.TempDir(), "faulty.txt")
	f, err := ffs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("!"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(5), ffs.Written())
}

func TestFaultyFS_Rules(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	custom := os.ErrPermission
	ffs.AddRule("sync", Fault{FailAfterBytes: -1, FailOnSync: true})
	ffs.AddRule("close", Fault{FailAfterBytes: -1, FailOnClose: true, Err: custom})
	ffs.AddRule("rename", Fault{FailAfterBytes: -1, FailOnRename: true})

	f, err := ffs.OpenFile(filepath.Join(tmp, "sync.bin"), os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), ErrInjected)
	assert.NoError(t, f.Close())

	f, err = ffs.OpenFile(filepath.Join(tmp, "close.bin"), os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Close(), custom)

	src := filepath.Join(tmp, "plain.bin")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	assert.ErrorIs(t, ffs.Rename(src, filepath.Join(tmp, "rename.bin")), ErrInjected)
	assert.NoError(t, ffs.Rename(src, filepath.Join(tmp, "moved.bin")))
}
