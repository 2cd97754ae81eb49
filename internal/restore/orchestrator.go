// Package restore replays a backup archive onto the live database and
// upload tree, rolling the database back when its restore fails.
package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cms-backup/internal/archive"
	"cms-backup/internal/compression"
	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/filetree"
	"cms-backup/internal/logging"
	"cms-backup/internal/snapshot"

	"github.com/google/uuid"
)

// Extractor unpacks an archive into a directory
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// Options selects what to restore
type Options struct {
	Database bool
	Files    bool
	// OnPhase, if set, is called on every state transition.
	OnPhase func(Phase)
}

// Config holds the filesystem locations used by the orchestrator
type Config struct {
	UploadsDir          string
	TempDir             string
	SnapshotCompression compression.Type
}

// tempSnapshot is the pre-restore copy of the live system for one invocation
type tempSnapshot struct {
	Dir         string
	DumpPath    string
	UploadsPath string
	HasUploads  bool
}

// Orchestrator drives a restore through extraction, validation, snapshot,
// database and file replacement
type Orchestrator struct {
	snap      snapshot.Snapshotter
	extractor Extractor
	files     *filetree.Replicator
	cfg       Config
	logger    *logging.Logger
}

// New creates an Orchestrator
func New(snap snapshot.Snapshotter, extractor Extractor, files *filetree.Replicator, cfg Config, logger *logging.Logger) *Orchestrator {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if files == nil {
		files = filetree.New(nil)
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Orchestrator{snap: snap, extractor: extractor, files: files, cfg: cfg, logger: logger}
}

type run struct {
	result  *Result
	ctx     context.Context
	logger  *logging.Logger
	onPhase func(Phase)
}

func (r *run) enter(phase Phase) {
	r.result.Phases = append(r.result.Phases, phase)
	r.logger.LogRestorePhase(r.ctx, r.result.ID, r.result.Archive, string(phase))
	if r.onPhase != nil {
		r.onPhase(phase)
	}
}

// Restore replaces the live database and/or upload tree with the contents
// of archivePath. The returned Result is non-nil whenever work was attempted.
//
// Nothing destructive happens before the archive has been validated and the
// current state snapshotted. Once the database wipe has started, the restore
// runs to completion regardless of ctx; only tool timeouts end a step.
func (o *Orchestrator) Restore(ctx context.Context, archivePath string, opts Options) (*Result, error) {
	if !opts.Database && !opts.Files {
		return nil, appErrors.Validation("nothing to restore: select the database, the files or both", nil)
	}

	id := uuid.NewString()
	result := &Result{
		ID:                id,
		Archive:           filepath.Base(archivePath),
		Database:          ComponentResult{Status: StatusSkipped},
		Files:             ComponentResult{Status: StatusSkipped},
		Rollback:          RollbackNotNeeded,
		StartedAt:         time.Now(),
		requestedDatabase: opts.Database,
		requestedFiles:    opts.Files,
	}
	r := &run{result: result, ctx: ctx, logger: o.logger, onPhase: opts.OnPhase}

	finish := func(err error) (*Result, error) {
		if err != nil {
			notAttempted := ComponentResult{Status: StatusError, Detail: "not attempted: " + err.Error()}
			if opts.Database && result.Database.Status == StatusSkipped {
				result.Database = notAttempted
			}
			if opts.Files && result.Files.Status == StatusSkipped {
				result.Files = notAttempted
			}
		}
		if result.Success() {
			r.enter(PhaseDone)
		} else {
			r.enter(PhaseFailed)
		}
		result.FinishedAt = time.Now()
		return result, err
	}

	r.enter(PhaseExtracting)
	scratch := filepath.Join(o.cfg.TempDir, "restore-"+id)
	defer o.removeDir(ctx, scratch, "scratch")

	if err := o.extractor.Extract(ctx, archivePath, scratch); err != nil {
		return finish(err)
	}

	r.enter(PhaseValidating)
	if issues := archive.Validate(scratch); issues.HasErrors() {
		return finish(issues.Err("archive is not a restorable backup"))
	}
	dumpPath, _ := archive.FindDump(scratch)
	extractedUploads := filepath.Join(scratch, archive.UploadsDir)
	hasUploads, err := o.files.IsDir(extractedUploads)
	if err != nil {
		return finish(appErrors.Storage("cannot inspect extracted uploads", err))
	}

	r.enter(PhaseSnapshotting)
	snap, err := o.takeSnapshot(ctx, id)
	if err != nil {
		return finish(err)
	}
	keepSnapshot := false
	defer func() {
		if !keepSnapshot {
			o.removeDir(ctx, snap.Dir, "snapshot")
		}
	}()

	// from here on the live system is modified; caller cancellation no
	// longer applies
	ctx = context.WithoutCancel(ctx)
	r.ctx = ctx

	var restoreErr error
	if opts.Database {
		r.enter(PhaseRestoringDatabase)
		if err := o.replaceDatabase(ctx, dumpPath); err != nil {
			result.Database = ComponentResult{Status: StatusError, Detail: err.Error()}

			r.enter(PhaseRollingBack)
			if rbErr := o.replaceDatabase(ctx, snap.DumpPath); rbErr != nil {
				result.Rollback = RollbackFailed
				result.SnapshotDir = snap.Dir
				keepSnapshot = true
				restoreErr = appErrors.Rollback(err, rbErr, snap.Dir)

				o.logger.WithContext(ctx).WithFields(map[string]interface{}{
					"restore_id":   id,
					"snapshot_dir": snap.Dir,
					"error":        rbErr.Error(),
				}).Error("Rollback failed, database needs manual recovery")
			} else {
				result.Rollback = RollbackSucceeded
				restoreErr = err
				o.logger.WithContext(ctx).WithField("restore_id", id).Warn("Database restore failed and was rolled back")
			}
		} else {
			result.Database = ComponentResult{Status: StatusSuccess}
		}
	}

	if opts.Files {
		if restoreErr != nil {
			result.Files = ComponentResult{Status: StatusError, Detail: "not attempted: database restore failed"}
		} else {
			r.enter(PhaseRestoringFiles)
			files, err := o.replaceFiles(ctx, extractedUploads, hasUploads)
			result.Files = files
			if err != nil {
				restoreErr = err
			}
		}
	}

	r.enter(PhaseFinalizing)
	return finish(restoreErr)
}

func (o *Orchestrator) takeSnapshot(ctx context.Context, id string) (*tempSnapshot, error) {
	dir := filepath.Join(o.cfg.TempDir, "snapshot-"+id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, appErrors.Storage("failed to create snapshot directory", err)
	}

	snap := &tempSnapshot{
		Dir:         dir,
		DumpPath:    filepath.Join(dir, archive.DumpEntry+o.cfg.SnapshotCompression.Extension()),
		UploadsPath: filepath.Join(dir, archive.UploadsDir),
	}

	if err := o.snap.Dump(ctx, snap.DumpPath); err != nil {
		o.removeDir(ctx, dir, "snapshot")
		return nil, err
	}

	if o.cfg.UploadsDir == "" {
		return snap, nil
	}
	live, err := o.files.IsDir(o.cfg.UploadsDir)
	if err != nil || !live {
		o.logger.WithField("path", o.cfg.UploadsDir).Debug("No live uploads to snapshot")
		return snap, nil
	}
	stats, err := o.files.CopyTree(ctx, o.cfg.UploadsDir, snap.UploadsPath)
	if err != nil {
		o.logger.WithContext(ctx).WithField("error", err.Error()).Warn("Could not snapshot live uploads, continuing")
		return snap, nil
	}
	snap.HasUploads = true
	o.logger.WithFields(map[string]interface{}{
		"files": stats.Files,
		"bytes": stats.Bytes,
	}).Debug("Live uploads snapshotted")

	return snap, nil
}

func (o *Orchestrator) replaceDatabase(ctx context.Context, dumpPath string) error {
	if err := o.snap.Wipe(ctx); err != nil {
		return err
	}
	return o.snap.Restore(ctx, dumpPath)
}

func (o *Orchestrator) replaceFiles(ctx context.Context, extracted string, hasUploads bool) (ComponentResult, error) {
	live := o.cfg.UploadsDir
	if live == "" {
		err := appErrors.Validation("no uploads directory configured", nil)
		return ComponentResult{Status: StatusError, Detail: err.Error()}, err
	}

	if err := o.files.ClearTree(ctx, live); err != nil {
		return ComponentResult{Status: StatusError, Detail: err.Error()}, err
	}
	if !hasUploads {
		return ComponentResult{Status: StatusCleaned, Detail: "archive has no uploads; live tree emptied"}, nil
	}

	stats, err := o.files.CopyTree(ctx, extracted, live)
	if err != nil {
		return ComponentResult{Status: StatusError, Detail: err.Error()}, err
	}
	return ComponentResult{
		Status: StatusSuccess,
		Detail: fmt.Sprintf("%d files, %d bytes", stats.Files, stats.Bytes),
	}, nil
}

func (o *Orchestrator) removeDir(ctx context.Context, dir, what string) {
	if err := os.RemoveAll(dir); err != nil {
		cleanupErr := appErrors.Cleanup(fmt.Sprintf("failed to remove %s directory", what), err).WithContext("dir", dir)
		o.logger.WithContext(ctx).WithField("error", cleanupErr.Error()).Warn("Temporary directory left behind")
	}
}
