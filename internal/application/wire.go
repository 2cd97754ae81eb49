package application

import (
	"context"
	"database/sql"
	"fmt"

	"cms-backup/internal/archive"
	"cms-backup/internal/catalog"
	"cms-backup/internal/config"
	"cms-backup/internal/database"
	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/execution"
	"cms-backup/internal/filetree"
	"cms-backup/internal/logging"
	"cms-backup/internal/mirror"
	"cms-backup/internal/restore"
	"cms-backup/internal/snapshot"

	"github.com/spf13/afero"
)

// Build assembles a Service backed by the real filesystem, MySQL and the
// configured mirror
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	retry := appErrors.NewRetryHandler(cfg.Retry)

	remote, err := mirror.New(ctx, cfg.Mirror, retry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up mirror: %w", err)
	}

	audit, err := logging.NewAuditLogger(cfg.Logging.AuditFile)
	if err != nil {
		return nil, appErrors.Config("failed to open audit log", err)
	}

	var svc *Service
	cat := catalog.New(afero.NewOsFs(), cfg.Paths.BackupDir,
		catalog.WithVerifier(archive.Verify),
		catalog.WithOnDelete(func(ctx context.Context, name string) {
			svc.OnCatalogDelete(ctx, name)
		}),
		catalog.WithLogger(logger),
	)

	svc = NewService(Deps{
		Catalog: cat,
		Mirror:  remote,
		Runner:  execution.NewRunner(execution.NewGuard(), logger),
		Audit:   audit,
		Logger:  logger,
		Engine:  mysqlEngine(cfg, retry, logger),
	})
	return svc, nil
}

// mysqlEngine connects to the database on first use and builds the
// archiver and restore orchestrator on top of one snapshotter
func mysqlEngine(cfg *config.Config, retry *appErrors.RetryHandler, logger *logging.Logger) EngineFactory {
	return func(ctx context.Context) (*Engine, error) {
		dbService := database.NewService(logger, retry)
		db, err := dbService.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if version, err := dbService.GetVersion(ctx, db); err == nil {
			logger.WithField("version", version).Debug("Connected to MySQL")
		}

		snap := snapshot.NewMySQLSnapshotter(db, snapshotOptions(cfg), snapshot.ExecRunner{}, logger)

		archiver := archive.New(snap, archive.Options{
			UploadsDir:       cfg.Paths.UploadsDir,
			TempDir:          cfg.Paths.TempDir,
			CompressionLevel: cfg.Archive.CompressionLevel,
			DatabaseName:     cfg.Database.Database,
			DumpTool:         cfg.Tools.DumpPath,
		}, logger)

		orchestrator := restore.New(snap, archiver, filetree.New(afero.NewOsFs()), restore.Config{
			UploadsDir:          cfg.Paths.UploadsDir,
			TempDir:             cfg.Paths.TempDir,
			SnapshotCompression: cfg.SnapshotCompression(),
		}, logger)

		return &Engine{
			Archiver: archiver,
			Restorer: orchestrator,
			Closer:   dbCloser{svc: dbService, db: db},
		}, nil
	}
}

func snapshotOptions(cfg *config.Config) snapshot.Options {
	return snapshot.Options{
		Database:         cfg.Database,
		DumpPath:         cfg.Tools.DumpPath,
		ClientPath:       cfg.Tools.ClientPath,
		Timeout:          cfg.Tools.Timeout,
		ExtraDumpArgs:    cfg.Tools.ExtraDumpArgs,
		CompressionLevel: cfg.Snapshot.CompressionLevel,
	}
}

type dbCloser struct {
	svc *database.Service
	db  *sql.DB
}

func (c dbCloser) Close() error {
	return c.svc.Close(c.db)
}
