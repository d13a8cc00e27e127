package util

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testManifest struct {
	Name    string            `json:"name"`
	Size    int               `json:"size"`
	Labels  map[string]string `json:"labels"`
	Digests []string          `json:"digests"`
}

func TestWriteJsonAtomic(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "manifest.json")

	written := &testManifest{
		Name:    "hello_world.bin",
		Size:    18,
		Labels:  map[string]string{"board": "esp32"},
		Digests: []string{"aa", "bb"},
	}

	err := WriteJsonAtomic(context.Background(), file, written, 0o644)
	require.NoError(t, err)

	read := &testManifest{}
	require.NoError(t, ReadJson(file, read))
	assert.Equal(t, written, read)

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestWriteBytesAtomic(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "key.pem")

	require.NoError(t, WriteBytesAtomic(context.Background(), file, []byte("first"), 0o600))
	require.NoError(t, WriteBytesAtomic(context.Background(), file, []byte("second"), 0o600))

	bs, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "second", string(bs))

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteBytesAtomicCanceled(t *testing.T) {
	file := filepath.Join(t.TempDir(), "artifact")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WriteBytesAtomic(ctx, file, []byte("payload"), 0o644)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, FileExists(file))
}

func TestCopyFileAtomic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "out", "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("HELLOWORLD"), 0o644))

	require.NoError(t, CopyFileAtomic(context.Background(), src, dst, 0o644))

	bs, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "HELLOWORLD", string(bs))

	err = CopyFileAtomic(context.Background(), filepath.Join(dir, "missing"), dst, 0o644)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "secure_keys")
	require.NoError(t, EnsureDir(dir, 0o700))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	require.NoError(t, EnsureDir(dir, 0o700), "existing dir is accepted")

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	assert.Error(t, EnsureDir(file, 0o700))
}
