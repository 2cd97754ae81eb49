package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cms-backup/internal/archive"
	"cms-backup/internal/catalog"
	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/execution"
	"cms-backup/internal/logging"
	"cms-backup/internal/mirror"
	"cms-backup/internal/restore"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fakeArchiver struct {
	data    []byte
	err     error
	created []string
}

func (f *fakeArchiver) Create(_ context.Context, destPath string) (*archive.Info, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(destPath, f.data, 0o640); err != nil {
		return nil, err
	}
	f.created = append(f.created, filepath.Base(destPath))
	return &archive.Info{Filename: filepath.Base(destPath), Size: int64(len(f.data))}, nil
}

type fakeRestorer struct {
	release chan struct{}
	started chan struct{}
	err     error
	paths   []string
}

func (f *fakeRestorer) Restore(_ context.Context, archivePath string, _ restore.Options) (*restore.Result, error) {
	f.paths = append(f.paths, archivePath)
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return &restore.Result{ID: "restore-1", Archive: filepath.Base(archivePath)}, f.err
}

type mockMirror struct {
	mock.Mock
}

func (m *mockMirror) Name() string { return "mock://offsite" }

func (m *mockMirror) Put(ctx context.Context, name, localPath string) error {
	return m.Called(ctx, name, localPath).Error(0)
}

func (m *mockMirror) Fetch(ctx context.Context, name, localPath string) error {
	return m.Called(ctx, name, localPath).Error(0)
}

func (m *mockMirror) Delete(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockMirror) List(ctx context.Context) ([]mirror.Object, error) {
	args := m.Called(ctx)
	objects, _ := args.Get(0).([]mirror.Object)
	return objects, args.Error(1)
}

type testEnv struct {
	svc      *Service
	dir      string
	archiver *fakeArchiver
	restorer *fakeRestorer
	audit    *bytes.Buffer
	opens    *int32
}

func newTestEnv(t *testing.T, remote mirror.Mirror) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := logging.NewNopLogger()

	env := &testEnv{
		dir:      dir,
		archiver: &fakeArchiver{data: zipBytes(t, map[string]string{archive.DumpEntry: "CREATE TABLE t (id INT);"})},
		restorer: &fakeRestorer{},
		audit:    &bytes.Buffer{},
		opens:    new(int32),
	}

	var svc *Service
	cat := catalog.New(afero.NewOsFs(), dir,
		catalog.WithVerifier(archive.Verify),
		catalog.WithOnDelete(func(ctx context.Context, name string) { svc.OnCatalogDelete(ctx, name) }),
		catalog.WithLogger(logger),
	)
	svc = NewService(Deps{
		Catalog: cat,
		Mirror:  remote,
		Runner:  execution.NewRunner(execution.NewGuard(), logger),
		Audit:   logging.NewAuditLoggerWriter(env.audit),
		Logger:  logger,
		Engine: func(context.Context) (*Engine, error) {
			atomic.AddInt32(env.opens, 1)
			return &Engine{Archiver: env.archiver, Restorer: env.restorer}, nil
		},
	})
	env.svc = svc
	return env
}

func (e *testEnv) addArchive(t *testing.T, name string, entries map[string]string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), zipBytes(t, entries), 0o640))
}

func waitJob(t *testing.T, job *execution.Job) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return job.Wait(ctx)
}

func TestCreate(t *testing.T) {
	remote := &mockMirror{}
	remote.On("Put", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("string")).Return(nil)
	env := newTestEnv(t, remote)

	job, err := env.svc.Create(context.Background())
	require.NoError(t, err)
	result, err := waitJob(t, job)
	require.NoError(t, err)

	entry, ok := result.(catalog.Entry)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(entry.Filename, "backup-"))
	assert.Equal(t, catalog.ProvenanceGenerated, entry.Provenance)

	entries, err := env.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.Filename, entries[0].Filename)

	remote.AssertCalled(t, "Put", mock.Anything, entry.Filename, filepath.Join(env.dir, entry.Filename))
	assert.Contains(t, env.audit.String(), `"operation":"create"`)
	assert.Contains(t, env.audit.String(), `"result":"success"`)
}

func TestCreate_MirrorFailureIsNotFatal(t *testing.T) {
	remote := &mockMirror{}
	remote.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket unreachable"))
	env := newTestEnv(t, remote)

	job, err := env.svc.Create(context.Background())
	require.NoError(t, err)
	_, err = waitJob(t, job)
	assert.NoError(t, err)
}

func TestCreate_FailureIsAudited(t *testing.T) {
	env := newTestEnv(t, nil)
	env.archiver.err = appErrors.Dump("mysqldump failed", 2, "access denied", nil)

	job, err := env.svc.Create(context.Background())
	require.NoError(t, err)
	_, err = waitJob(t, job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrDump))
	assert.Contains(t, env.audit.String(), `"result":"failure"`)
	assert.Contains(t, env.audit.String(), `"kind":"dump"`)
}

func TestRestore_BusyWhileRunning(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addArchive(t, "backup-1.zip", map[string]string{archive.DumpEntry: "SELECT 1;"})
	env.restorer.release = make(chan struct{})
	env.restorer.started = make(chan struct{})

	opts := restore.Options{Database: true, Files: true}
	job, err := env.svc.Restore(context.Background(), "backup-1.zip", opts)
	require.NoError(t, err)
	<-env.restorer.started

	_, err = env.svc.Restore(context.Background(), "backup-1.zip", opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrBusy))

	_, err = env.svc.Create(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrBusy))

	close(env.restorer.release)
	result, err := waitJob(t, job)
	require.NoError(t, err)
	assert.Equal(t, "restore-1", result.(*restore.Result).ID)

	env.restorer.started = nil
	again, err := env.svc.Restore(context.Background(), "backup-1.zip", opts)
	require.NoError(t, err)
	_, err = waitJob(t, again)
	assert.NoError(t, err)
}

func TestRestore_RejectsBeforeStarting(t *testing.T) {
	env := newTestEnv(t, nil)
	opts := restore.Options{Database: true}

	_, err := env.svc.Restore(context.Background(), "../../etc/passwd", opts)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidName))

	_, err = env.svc.Restore(context.Background(), "backup-missing.zip", opts)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	env.addArchive(t, "backup-1.zip", map[string]string{archive.DumpEntry: "SELECT 1;"})
	_, err = env.svc.Restore(context.Background(), "backup-1.zip", restore.Options{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	assert.Equal(t, int32(0), atomic.LoadInt32(env.opens))
	assert.Empty(t, env.restorer.paths)
}

func TestRestore_FailureCarriesResult(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addArchive(t, "backup-1.zip", map[string]string{archive.DumpEntry: "SELECT 1;"})
	env.restorer.err = appErrors.RestoreFailed("mysql client failed", 1, "syntax error", nil)

	job, err := env.svc.Restore(context.Background(), "backup-1.zip", restore.Options{Database: true})
	require.NoError(t, err)
	result, err := waitJob(t, job)
	assert.True(t, errors.Is(err, appErrors.ErrRestore))
	require.NotNil(t, result)
	assert.Equal(t, "backup-1.zip", result.(*restore.Result).Archive)
	assert.Contains(t, env.audit.String(), `"restore_id":"restore-1"`)
}

func TestUploadAndDownload(t *testing.T) {
	env := newTestEnv(t, nil)
	data := zipBytes(t, map[string]string{archive.DumpEntry: "SELECT 1;", "uploads/logo.png": "png"})

	entry, err := env.svc.Upload(context.Background(), "site.zip", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, catalog.ProvenanceUploaded, entry.Provenance)
	assert.True(t, strings.HasPrefix(entry.Filename, "uploaded-"))

	var out bytes.Buffer
	downloaded, err := env.svc.Download(context.Background(), entry.Filename, &out)
	require.NoError(t, err)
	assert.Equal(t, entry.Filename, downloaded.Filename)
	assert.Equal(t, data, out.Bytes())

	assert.Equal(t, int32(0), atomic.LoadInt32(env.opens))
}

func TestUpload_RejectsNonBackup(t *testing.T) {
	env := newTestEnv(t, nil)
	data := zipBytes(t, map[string]string{"uploads/logo.png": "png"})

	_, err := env.svc.Upload(context.Background(), "site.zip", bytes.NewReader(data))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	entries, err := env.svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDelete_PropagatesToMirror(t *testing.T) {
	remote := &mockMirror{}
	remote.On("Delete", mock.Anything, "backup-1.zip").Return(nil)
	env := newTestEnv(t, remote)
	env.addArchive(t, "backup-1.zip", map[string]string{archive.DumpEntry: "SELECT 1;"})

	require.NoError(t, env.svc.Delete(context.Background(), "backup-1.zip"))
	remote.AssertExpectations(t)
	assert.Contains(t, env.audit.String(), `"operation":"delete"`)

	err := env.svc.Delete(context.Background(), "backup-1.zip")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestCleanup(t *testing.T) {
	env := newTestEnv(t, nil)
	old := time.Now().AddDate(0, 0, -40)
	env.addArchive(t, "backup-old.zip", map[string]string{archive.DumpEntry: "SELECT 1;"})
	require.NoError(t, os.Chtimes(filepath.Join(env.dir, "backup-old.zip"), old, old))
	env.addArchive(t, "backup-new.zip", map[string]string{archive.DumpEntry: "SELECT 1;"})

	deleted, err := env.svc.Cleanup(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = env.svc.Cleanup(context.Background(), 0)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestValidate(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addArchive(t, "backup-good.zip", map[string]string{archive.DumpEntry: "SELECT 1;"})
	env.addArchive(t, "backup-bad.zip", map[string]string{"notes.txt": "x"})

	good, err := env.svc.Validate(context.Background(), "backup-good.zip")
	require.NoError(t, err)
	assert.True(t, good.Valid())

	bad, err := env.svc.Validate(context.Background(), "backup-bad.zip")
	require.NoError(t, err)
	assert.False(t, bad.Valid())

	_, err = env.svc.Validate(context.Background(), "backup-none.zip")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestPull(t *testing.T) {
	data := zipBytes(t, map[string]string{archive.DumpEntry: "SELECT 1;"})
	remote := &mockMirror{}
	remote.On("Fetch", mock.Anything, "backup-remote.zip", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			require.NoError(t, os.WriteFile(args.String(2), data, 0o640))
		}).Return(nil)
	remote.On("Fetch", mock.Anything, "backup-gone.zip", mock.Anything).
		Return(fmt.Errorf("%w: backup-gone.zip", mirror.ErrObjectNotFound))
	env := newTestEnv(t, remote)

	entry, err := env.svc.Pull(context.Background(), "backup-remote.zip")
	require.NoError(t, err)
	assert.Equal(t, "backup-remote.zip", entry.Filename)

	_, err = env.svc.Pull(context.Background(), "backup-gone.zip")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, statErr := os.Stat(filepath.Join(env.dir, "backup-gone.zip.partial"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = env.svc.Pull(context.Background(), "../x.zip")
	assert.True(t, errors.Is(err, appErrors.ErrInvalidName))
}

func TestPull_WithoutMirror(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.Pull(context.Background(), "backup-remote.zip")
	assert.True(t, errors.Is(err, appErrors.ErrConfig))

	_, err = env.svc.Remote(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrConfig))
}

func TestClose(t *testing.T) {
	env := newTestEnv(t, nil)
	job, err := env.svc.Create(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.svc.Close(ctx))
	assert.Equal(t, execution.StatusSucceeded, job.Status())
}

func TestHints(t *testing.T) {
	assert.Nil(t, Hints(nil))
	assert.NotEmpty(t, Hints(appErrors.Busy("restore")))
	assert.NotEmpty(t, Hints(appErrors.InvalidName("../x", "path separator")))

	rb := appErrors.Rollback(errors.New("restore failed"), errors.New("rollback failed"), "/tmp/snapshot-1")
	hints := Hints(rb)
	require.NotEmpty(t, hints)
	assert.Contains(t, strings.Join(hints, "\n"), "/tmp/snapshot-1")
}
