package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, EnsureDir(path))
	assert.DirExists(t, path)

	// Idempotent on an existing directory.
	assert.NoError(t, EnsureDir(path))
}

func TestMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	// Destination in a directory that does not exist yet.
	dst := filepath.Join(dir, "nested", "dst.bin")
	require.NoError(t, Move(src, dst))

	assert.NoFileExists(t, src)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestMove_EmptyPaths(t *testing.T) {
	assert.Error(t, Move("", "/tmp/x"))
	assert.Error(t, Move("/tmp/x", ""))
}

func TestMove_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := Move(filepath.Join(dir, "absent"), filepath.Join(dir, "dst"))
	assert.Error(t, err)
}

func TestCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("copy me"), 0o600))

	dst := filepath.Join(dir, "dst.bin")
	require.NoError(t, Copy(src, dst))

	// Source stays in place, destination matches.
	assert.FileExists(t, src)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("copy me"), got)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCopy_MissingSource(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, Copy(filepath.Join(dir, "absent"), filepath.Join(dir, "dst")))
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644))
	require.NoError(t, EnsureDir(filepath.Join(dir, "sub")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0o644))

	size, count, err := DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(150), size)
	assert.Equal(t, 2, count)
}

func TestDirSize_MissingDirIsEmpty(t *testing.T) {
	size, count, err := DirSize(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Zero(t, count)
}

func TestDiskUsage(t *testing.T) {
	total, free, err := DiskUsage(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, total)
	assert.Positive(t, free)
	assert.LessOrEqual(t, free, total)
}
