// Package application exposes the backup operations independent of any
// transport. The CLI in cmd/ is one caller.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"cms-backup/internal/archive"
	"cms-backup/internal/catalog"
	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/execution"
	"cms-backup/internal/logging"
	"cms-backup/internal/mirror"
	"cms-backup/internal/restore"
)

// Operation names used for the guard, jobs and the audit trail
const (
	OpCreate  = "create"
	OpRestore = "restore"
	OpUpload  = "upload"
	OpDelete  = "delete"
	OpCleanup = "cleanup"
	OpPull    = "pull"
)

// Archiver writes new archives
type Archiver interface {
	Create(ctx context.Context, destPath string) (*archive.Info, error)
}

// Restorer replays archives onto the live system
type Restorer interface {
	Restore(ctx context.Context, archivePath string, opts restore.Options) (*restore.Result, error)
}

// Engine is the database-backed half of the service. It is opened on first
// use so that catalog-only operations never touch the database.
type Engine struct {
	Archiver Archiver
	Restorer Restorer
	Closer   io.Closer
}

// EngineFactory opens the Engine
type EngineFactory func(ctx context.Context) (*Engine, error)

// Deps are the collaborators of a Service
type Deps struct {
	Catalog *catalog.Catalog
	Mirror  mirror.Mirror
	Runner  *execution.Runner
	Audit   *logging.AuditLogger
	Logger  *logging.Logger
	Engine  EngineFactory
}

// Service implements list, create, upload, restore, download, delete,
// cleanup, validate and pull
type Service struct {
	catalog *catalog.Catalog
	mirror  mirror.Mirror
	runner  *execution.Runner
	audit   *logging.AuditLogger
	logger  *logging.Logger

	openEngine EngineFactory
	engineMu   sync.Mutex
	engine     *Engine
}

// NewService wires a Service from deps
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = logging.NewDefaultLogger()
	}
	if deps.Mirror == nil {
		deps.Mirror = mirror.Noop{}
	}
	if deps.Runner == nil {
		deps.Runner = execution.NewRunner(nil, deps.Logger)
	}
	return &Service{
		catalog:    deps.Catalog,
		mirror:     deps.Mirror,
		runner:     deps.Runner,
		audit:      deps.Audit,
		logger:     deps.Logger,
		openEngine: deps.Engine,
	}
}

func (s *Service) getEngine(ctx context.Context) (*Engine, error) {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	if s.engine != nil {
		return s.engine, nil
	}
	if s.openEngine == nil {
		return nil, appErrors.Config("no database engine configured", nil)
	}
	engine, err := s.openEngine(ctx)
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return engine, nil
}

// List returns every archive in the catalog, newest first
func (s *Service) List(ctx context.Context) ([]catalog.Entry, error) {
	return s.catalog.List(ctx)
}

// Create starts a backup in the background. The job result is a
// catalog.Entry. A concurrent create or restore yields a Busy error.
func (s *Service) Create(ctx context.Context) (*execution.Job, error) {
	return s.runner.Start(ctx, OpCreate, func(ctx context.Context) (any, error) {
		entry, err := s.create(ctx)
		s.record(ctx, OpCreate, entry.Filename, err, map[string]interface{}{"size": entry.Size})
		if err != nil {
			return nil, err
		}
		return entry, nil
	})
}

func (s *Service) create(ctx context.Context) (catalog.Entry, error) {
	engine, err := s.getEngine(ctx)
	if err != nil {
		return catalog.Entry{}, err
	}
	if err := s.catalog.EnsureDir(); err != nil {
		return catalog.Entry{}, err
	}

	name, err := s.catalog.NewGeneratedName(time.Now())
	if err != nil {
		return catalog.Entry{}, err
	}
	path, err := s.catalog.Path(name)
	if err != nil {
		return catalog.Entry{}, err
	}

	if _, err := engine.Archiver.Create(ctx, path); err != nil {
		return catalog.Entry{}, err
	}
	entry, err := s.catalog.Stat(ctx, name)
	if err != nil {
		return catalog.Entry{}, err
	}

	s.pushToMirror(ctx, name, path)
	return entry, nil
}

// Upload admits a caller-supplied archive. It is verified before it
// becomes visible in the catalog.
func (s *Service) Upload(ctx context.Context, originalName string, r io.Reader) (catalog.Entry, error) {
	entry, err := s.catalog.Upload(ctx, originalName, r)
	s.record(ctx, OpUpload, entry.Filename, err, map[string]interface{}{
		"original_name": originalName,
		"size":          entry.Size,
	})
	if err != nil {
		return catalog.Entry{}, err
	}

	if path, err := s.catalog.Path(entry.Filename); err == nil {
		s.pushToMirror(ctx, entry.Filename, path)
	}
	return entry, nil
}

// Restore starts a restore in the background. The job result is a
// *restore.Result. The name is checked and the archive located before the
// job starts, so InvalidName, NotFound and Busy are reported synchronously.
func (s *Service) Restore(ctx context.Context, filename string, opts restore.Options) (*execution.Job, error) {
	if !opts.Database && !opts.Files {
		return nil, appErrors.Validation("nothing to restore: select the database, the files or both", nil)
	}
	if _, err := s.catalog.Stat(ctx, filename); err != nil {
		return nil, err
	}
	path, err := s.catalog.Path(filename)
	if err != nil {
		return nil, err
	}

	return s.runner.Start(ctx, OpRestore, func(ctx context.Context) (any, error) {
		engine, err := s.getEngine(ctx)
		if err != nil {
			s.record(ctx, OpRestore, filename, err, nil)
			return nil, err
		}

		result, err := engine.Restorer.Restore(ctx, path, opts)
		details := map[string]interface{}{
			"restore_db":    opts.Database,
			"restore_files": opts.Files,
		}
		if result != nil {
			details["restore_id"] = result.ID
			details["database"] = string(result.Database.Status)
			details["files"] = string(result.Files.Status)
			details["rollback"] = string(result.Rollback)
			if result.SnapshotDir != "" {
				details["snapshot_dir"] = result.SnapshotDir
			}
		}
		s.record(ctx, OpRestore, filename, err, details)

		if result == nil {
			return nil, err
		}
		return result, err
	})
}

// Download streams an archive to w
func (s *Service) Download(ctx context.Context, filename string, w io.Writer) (catalog.Entry, error) {
	rc, entry, err := s.catalog.Open(ctx, filename)
	if err != nil {
		return catalog.Entry{}, err
	}
	defer rc.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return catalog.Entry{}, appErrors.Storage("failed to stream archive", err).WithContext("name", filename)
	}
	return entry, nil
}

// Delete removes one archive
func (s *Service) Delete(ctx context.Context, filename string) error {
	err := s.catalog.Delete(ctx, filename)
	s.record(ctx, OpDelete, filename, err, nil)
	return err
}

// Cleanup deletes archives older than retentionDays and returns the count
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	deleted, err := s.catalog.ApplyRetention(ctx, retentionDays)
	s.record(ctx, OpCleanup, s.catalog.Dir(), err, map[string]interface{}{
		"retention_days": retentionDays,
		"deleted":        deleted,
	})
	return deleted, err
}

// Validation is the outcome of checking an archive without restoring it
type Validation struct {
	Entry    catalog.Entry              `json:"entry" yaml:"entry"`
	Manifest *archive.Manifest          `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Issues   appErrors.ValidationErrors `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// Valid reports whether the archive is restorable
func (v *Validation) Valid() bool {
	return !v.Issues.HasErrors()
}

// Validate inspects an archive in place
func (s *Service) Validate(ctx context.Context, filename string) (*Validation, error) {
	entry, err := s.catalog.Stat(ctx, filename)
	if err != nil {
		return nil, err
	}
	path, err := s.catalog.Path(filename)
	if err != nil {
		return nil, err
	}

	manifest, issues, err := archive.Inspect(path)
	if err != nil {
		return nil, err
	}
	return &Validation{Entry: entry, Manifest: manifest, Issues: issues}, nil
}

// Remote lists the archives held by the mirror
func (s *Service) Remote(ctx context.Context) ([]mirror.Object, error) {
	if mirror.IsNoop(s.mirror) {
		return nil, appErrors.Config("no mirror configured", nil)
	}
	return s.mirror.List(ctx)
}

// Pull copies an archive from the mirror into the catalog
func (s *Service) Pull(ctx context.Context, filename string) (catalog.Entry, error) {
	if err := catalog.ValidateName(filename); err != nil {
		return catalog.Entry{}, err
	}
	if mirror.IsNoop(s.mirror) {
		return catalog.Entry{}, appErrors.Config("no mirror configured", nil)
	}

	entry, err := s.catalog.Import(ctx, filename, func(ctx context.Context, partial string) error {
		err := s.mirror.Fetch(ctx, filename, partial)
		if errors.Is(err, mirror.ErrObjectNotFound) {
			return appErrors.NotFound(filename).WithContext("mirror", s.mirror.Name())
		}
		return err
	})
	s.record(ctx, OpPull, filename, err, map[string]interface{}{"mirror": s.mirror.Name()})
	return entry, err
}

// OnCatalogDelete propagates a local deletion to the mirror. It is
// installed as the catalog's delete hook.
func (s *Service) OnCatalogDelete(ctx context.Context, name string) {
	if mirror.IsNoop(s.mirror) {
		return
	}
	if err := s.mirror.Delete(ctx, name); err != nil {
		s.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"archive": name,
			"mirror":  s.mirror.Name(),
			"error":   err.Error(),
		}).Warn("Failed to delete mirrored archive")
	}
}

// pushToMirror copies a new archive off-host. Failures are logged only.
func (s *Service) pushToMirror(ctx context.Context, name, path string) {
	if mirror.IsNoop(s.mirror) {
		return
	}
	start := time.Now()
	if err := s.mirror.Put(ctx, name, path); err != nil {
		s.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"archive": name,
			"mirror":  s.mirror.Name(),
			"error":   err.Error(),
		}).Warn("Failed to mirror archive")
		return
	}
	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"archive":  name,
		"mirror":   s.mirror.Name(),
		"duration": time.Since(start).String(),
	}).Info("Archive mirrored")
}

func (s *Service) record(ctx context.Context, op, resource string, err error, details map[string]interface{}) {
	result := "success"
	if err != nil {
		result = "failure"
		if details == nil {
			details = map[string]interface{}{}
		}
		details["error"] = err.Error()
		details["kind"] = string(appErrors.KindOf(err))
	}
	s.audit.Record(ctx, logging.AuditEntry{
		Operation: op,
		Resource:  resource,
		Result:    result,
		Details:   details,
	})
}

// Close waits for running jobs, then releases the engine and audit log
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if err := s.runner.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for jobs: %w", err))
	}

	s.engineMu.Lock()
	if s.engine != nil && s.engine.Closer != nil {
		if err := s.engine.Closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.engine = nil
	s.engineMu.Unlock()

	if closer, ok := s.mirror.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.audit.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
