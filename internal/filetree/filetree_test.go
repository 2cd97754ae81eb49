package filetree

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTree(t *testing.T, fs afero.Fs, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
}

func TestCopyTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedTree(t, fs, "/live/uploads", map[string]string{
		"logo.png":              "png",
		"2024/05/banner.jpg":    "jpeg-bytes",
		"2024/05/notes/raw.txt": "hello",
	})

	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Chmod("/live/uploads/logo.png", 0o600))
	require.NoError(t, fs.Chtimes("/live/uploads/logo.png", mtime, mtime))

	r := New(fs)
	stats, err := r.CopyTree(context.Background(), "/live/uploads", "/snapshot/uploads")
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 3, stats.Dirs)
	assert.Equal(t, int64(len("png")+len("jpeg-bytes")+len("hello")), stats.Bytes)

	data, err := afero.ReadFile(fs, "/snapshot/uploads/2024/05/notes/raw.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := fs.Stat("/snapshot/uploads/logo.png")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))
}

func TestCopyTree_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "real.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(src, "escape")))

	r := New(nil)
	stats, err := r.CopyTree(context.Background(), src, filepath.Join(root, "dst"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 1, stats.SkippedSymlinks)

	_, err = os.Lstat(filepath.Join(root, "dst", "escape"))
	assert.True(t, os.IsNotExist(err))
}

func TestCopyTree_FollowsSymlinkedRoot(t *testing.T) {
	root := t.TempDir()
	volume := filepath.Join(root, "volume")
	require.NoError(t, os.MkdirAll(filepath.Join(volume, "2024"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(volume, "a.png"), []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(volume, "2024", "b.jpg"), []byte("jpeg"), 0o644))
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(volume, "escape")))
	uploads := filepath.Join(root, "uploads")
	require.NoError(t, os.Symlink(volume, uploads))

	r := New(nil)
	stats, err := r.CopyTree(context.Background(), uploads, filepath.Join(root, "dst"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 1, stats.SkippedSymlinks)

	data, err := os.ReadFile(filepath.Join(root, "dst", "2024", "b.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))
}

func TestCopyTree_MissingSource(t *testing.T) {
	r := New(afero.NewMemMapFs())
	_, err := r.CopyTree(context.Background(), "/nope", "/dst")
	assert.Error(t, err)
}

func TestCopyTree_Cancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedTree(t, fs, "/src", map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(fs).CopyTree(ctx, "/src", "/dst")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClearTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedTree(t, fs, "/live/uploads", map[string]string{
		"a.txt":     "a",
		"dir/b.txt": "b",
	})

	r := New(fs)
	require.NoError(t, r.ClearTree(context.Background(), "/live/uploads"))

	exists, err := r.IsDir("/live/uploads")
	require.NoError(t, err)
	assert.True(t, exists, "the root directory itself is kept")

	entries, err := afero.ReadDir(fs, "/live/uploads")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClearTree_MissingPathIsNoop(t *testing.T) {
	r := New(afero.NewMemMapFs())
	assert.NoError(t, r.ClearTree(context.Background(), "/does/not/exist"))
	assert.NoError(t, r.ClearTree(context.Background(), "/does/not/exist"))
}

func TestClearTree_RejectsFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/file", []byte("x"), 0o644))
	assert.Error(t, New(fs).ClearTree(context.Background(), "/file"))
}
