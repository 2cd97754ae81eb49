package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/logging"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshotter struct {
	dump    string
	dumpErr error
}

func (f *fakeSnapshotter) Dump(ctx context.Context, destPath string) error {
	if f.dumpErr != nil {
		return f.dumpErr
	}
	return os.WriteFile(destPath, []byte(f.dump), 0o600)
}

func (f *fakeSnapshotter) Wipe(ctx context.Context) error { return nil }

func (f *fakeSnapshotter) Restore(ctx context.Context, sqlPath string) error { return nil }

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func newTestArchiver(t *testing.T, snap *fakeSnapshotter, uploads string) *Archiver {
	t.Helper()
	return New(snap, Options{
		UploadsDir:   uploads,
		TempDir:      filepath.Join(t.TempDir(), "tmp"),
		DatabaseName: "cms",
	}, logging.NewNopLogger())
}

func TestCreateExtractValidate(t *testing.T) {
	root := t.TempDir()
	uploads := filepath.Join(root, "uploads")
	writeTree(t, uploads, map[string]string{
		"logo.png":           "png-data",
		"2024/05/banner.jpg": "jpeg-data",
	})
	require.NoError(t, os.Symlink("/etc/hostname", filepath.Join(uploads, "link")))

	a := newTestArchiver(t, &fakeSnapshotter{dump: "CREATE TABLE `pages` (`id` int);\n"}, uploads)
	dest := filepath.Join(root, "backups", "backup-20240501-120000.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))

	info, err := a.Create(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, "backup-20240501-120000.zip", info.Filename)
	assert.Equal(t, 2, info.Files)
	assert.Positive(t, info.Size)

	_, err = os.Stat(dest + ".partial")
	assert.True(t, os.IsNotExist(err), "partial file must be renamed away")

	manifest, issues, err := Inspect(dest)
	require.NoError(t, err)
	assert.False(t, issues.HasErrors(), "unexpected issues: %v", issues)
	require.NotNil(t, manifest)
	assert.Equal(t, FormatVersion, manifest.FormatVersion)
	assert.Equal(t, "cms", manifest.Database)
	assert.Equal(t, 2, manifest.UploadsFiles)

	out := filepath.Join(root, "extracted")
	require.NoError(t, a.Extract(context.Background(), dest, out))
	assert.False(t, Validate(out).HasErrors())

	dump, ok := FindDump(out)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(out, DumpEntry), dump)

	data, err := os.ReadFile(filepath.Join(out, "uploads", "2024", "05", "banner.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-data", string(data))

	_, err = os.Lstat(filepath.Join(out, "uploads", "link"))
	assert.True(t, os.IsNotExist(err), "symlinks are not archived")
}

func TestCreate_SymlinkedUploadsDir(t *testing.T) {
	root := t.TempDir()
	volume := filepath.Join(root, "volume")
	writeTree(t, volume, map[string]string{
		"a.png":      "png-data",
		"2024/b.jpg": "jpeg-data",
	})
	require.NoError(t, os.Symlink("/etc/hostname", filepath.Join(volume, "link")))
	uploads := filepath.Join(root, "uploads")
	require.NoError(t, os.Symlink(volume, uploads))

	a := newTestArchiver(t, &fakeSnapshotter{dump: "SELECT 1;\n"}, uploads)
	dest := filepath.Join(root, "linked.zip")
	info, err := a.Create(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Files)

	manifest, _, err := Inspect(dest)
	require.NoError(t, err)
	require.NotNil(t, manifest)
	assert.Equal(t, 2, manifest.UploadsFiles)

	out := filepath.Join(root, "out")
	require.NoError(t, a.Extract(context.Background(), dest, out))
	data, err := os.ReadFile(filepath.Join(out, UploadsDir, "2024", "b.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-data", string(data))
	_, err = os.Lstat(filepath.Join(out, UploadsDir, "link"))
	assert.True(t, os.IsNotExist(err))
}

func TestCreate_WithoutUploadsDir(t *testing.T) {
	root := t.TempDir()
	a := newTestArchiver(t, &fakeSnapshotter{dump: "SELECT 1;\n"}, filepath.Join(root, "missing"))

	dest := filepath.Join(root, "db-only.zip")
	info, err := a.Create(context.Background(), dest)
	require.NoError(t, err)
	assert.Zero(t, info.Files)

	out := filepath.Join(root, "out")
	require.NoError(t, a.Extract(context.Background(), dest, out))
	assert.False(t, Validate(out).HasErrors())
	_, err = os.Stat(filepath.Join(out, UploadsDir))
	assert.True(t, os.IsNotExist(err))
}

func TestCreate_DumpFailureLeavesNoArchive(t *testing.T) {
	root := t.TempDir()
	dumpErr := appErrors.Dump("mysqldump failed", 2, "Access denied", nil)
	a := newTestArchiver(t, &fakeSnapshotter{dumpErr: dumpErr}, "")

	dest := filepath.Join(root, "backup.zip")
	_, err := a.Create(context.Background(), dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrDump))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtract_CorruptArchive(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a zip"), 0o644))

	err := New(nil, Options{}, logging.NewNopLogger()).Extract(context.Background(), path, filepath.Join(root, "out"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrExtract))
}

func TestExtract_RejectsPathTraversal(t *testing.T) {
	tests := []struct {
		name  string
		entry string
	}{
		{"parent", "../escape.txt"},
		{"nested parent", "uploads/../../escape.txt"},
		{"absolute", "/tmp/escape.txt"},
		{"backslash", `..\escape.txt`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			path := filepath.Join(root, "evil.zip")
			writeZip(t, path, map[string]string{
				DumpEntry: "SELECT 1;",
				tt.entry:  "pwned",
			})

			out := filepath.Join(root, "out")
			err := New(nil, Options{}, logging.NewNopLogger()).Extract(context.Background(), path, out)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrExtract))

			_, statErr := os.Stat(filepath.Join(root, "escape.txt"))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestExtract_ToleratesUnknownEntries(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "extra.zip")
	writeZip(t, path, map[string]string{
		"database.sql.gz": "compressed",
		"README.txt":      "hello",
	})

	out := filepath.Join(root, "out")
	require.NoError(t, New(nil, Options{}, logging.NewNopLogger()).Extract(context.Background(), path, out))
	assert.False(t, Validate(out).HasErrors())

	dump, ok := FindDump(out)
	require.True(t, ok)
	assert.Equal(t, "database.sql.gz", filepath.Base(dump))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string]string
		wantField string
	}{
		{"missing dump", map[string]string{"uploads/a.txt": "a"}, "database"},
		{"empty dump", map[string]string{DumpEntry: ""}, "database"},
		{"uploads is a file", map[string]string{DumpEntry: "SELECT 1;", "uploads": "oops"}, UploadsDir},
		{"bad manifest", map[string]string{DumpEntry: "SELECT 1;", ManifestEntry: "{"}, "manifest"},
		{"future manifest", map[string]string{DumpEntry: "SELECT 1;", ManifestEntry: `{"format_version": 99}`}, "manifest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeTree(t, dir, tt.files)

			issues := Validate(dir)
			require.True(t, issues.HasErrors())
			assert.Equal(t, tt.wantField, issues[0].Field)
		})
	}
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name      string
		entries   map[string]string
		wantValid bool
	}{
		{"dump only", map[string]string{DumpEntry: "SELECT 1;"}, true},
		{"dump and uploads", map[string]string{DumpEntry: "SELECT 1;", "uploads/a.png": "a"}, true},
		{"no dump", map[string]string{"uploads/a.png": "a"}, false},
		{"nested dump does not count", map[string]string{"backup/database.sql": "SELECT 1;"}, false},
		{"empty dump", map[string]string{DumpEntry: ""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "a.zip")
			writeZip(t, path, tt.entries)

			_, issues, err := Inspect(path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, !issues.HasErrors(), "issues: %v", issues)
		})
	}
}

func TestInspect_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK but not really"), 0o644))

	_, _, err := Inspect(path)
	assert.True(t, errors.Is(err, appErrors.ErrExtract))
}

func TestVerify(t *testing.T) {
	good := filepath.Join(t.TempDir(), "good.zip")
	writeZip(t, good, map[string]string{DumpEntry: "SELECT 1;"})
	assert.NoError(t, Verify(good))

	bad := filepath.Join(t.TempDir(), "bad.zip")
	writeZip(t, bad, map[string]string{"uploads/a.png": "a"})
	err := Verify(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
