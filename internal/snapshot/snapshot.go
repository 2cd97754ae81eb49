// Package snapshot exports, drops and re-imports the CMS database through the
// MySQL client tools.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cms-backup/internal/compression"
	"cms-backup/internal/database"
	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/logging"
)

// DefaultToolTimeout bounds a single mysqldump or mysql run
const DefaultToolTimeout = 30 * time.Minute

// Snapshotter is the database side of a backup or restore
type Snapshotter interface {
	// Dump writes a full export of the database to destPath.
	Dump(ctx context.Context, destPath string) error
	// Wipe drops every object in the target schema.
	Wipe(ctx context.Context) error
	// Restore imports the export at sqlPath into the (wiped) schema.
	Restore(ctx context.Context, sqlPath string) error
}

// Options configures a MySQLSnapshotter
type Options struct {
	Database         database.Config
	DumpPath         string
	ClientPath       string
	Timeout          time.Duration
	ExtraDumpArgs    []string
	CompressionLevel int
}

func (o *Options) setDefaults() {
	if o.DumpPath == "" {
		o.DumpPath = "mysqldump"
	}
	if o.ClientPath == "" {
		o.ClientPath = "mysql"
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultToolTimeout
	}
}

// MySQLSnapshotter implements Snapshotter with mysqldump, the mysql client and
// a direct connection for Wipe.
type MySQLSnapshotter struct {
	db     *sql.DB
	opts   Options
	runner CommandRunner
	logger *logging.Logger
}

// NewMySQLSnapshotter creates a snapshotter. db is used only by Wipe.
func NewMySQLSnapshotter(db *sql.DB, opts Options, runner CommandRunner, logger *logging.Logger) *MySQLSnapshotter {
	opts.setDefaults()
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &MySQLSnapshotter{db: db, opts: opts, runner: runner, logger: logger}
}

func (s *MySQLSnapshotter) dumpArgs() []string {
	args := []string{
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--events",
		"--no-tablespaces",
		"--skip-comments",
		"--hex-blob",
		"--default-character-set=utf8mb4",
	}
	args = append(args, s.opts.Database.ToolArgs()...)
	args = append(args, s.opts.ExtraDumpArgs...)
	return append(args, s.opts.Database.Database)
}

func (s *MySQLSnapshotter) clientArgs() []string {
	args := append([]string{}, s.opts.Database.ToolArgs()...)
	args = append(args, "--default-character-set=utf8mb4")
	return append(args, s.opts.Database.Database)
}

// Dump runs mysqldump into destPath. A compression extension on destPath
// selects an on-the-fly codec. On failure destPath does not exist.
func (s *MySQLSnapshotter) Dump(ctx context.Context, destPath string) (err error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return appErrors.Dump("failed to create dump directory", 0, "", err)
	}

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return appErrors.Dump("failed to create dump file", 0, "", err)
	}
	var cw io.WriteCloser
	defer func() {
		if err != nil {
			if cw != nil {
				cw.Close()
			}
			f.Close()
			os.Remove(destPath)
		}
	}()

	cw, err = compression.NewWriter(f, compression.FromPath(destPath), s.opts.CompressionLevel)
	if err != nil {
		return appErrors.Dump("failed to set up dump compression", 0, "", err)
	}
	filter := newDefinerFilter(cw)

	result, runErr := s.run(ctx, s.opts.DumpPath, s.dumpArgs(), nil, filter)
	if runErr != nil {
		msg := "mysqldump failed"
		if errors.Is(runErr, context.DeadlineExceeded) {
			msg = fmt.Sprintf("mysqldump timed out after %s", s.opts.Timeout)
		}
		return appErrors.Dump(msg, result.ExitCode, result.Stderr, runErr).
			WithContext("database", s.opts.Database.Database)
	}

	if err := filter.Close(); err != nil {
		return appErrors.Dump("failed to write dump", 0, "", err)
	}
	closeErr := cw.Close()
	cw = nil
	if closeErr != nil {
		return appErrors.Dump("failed to flush dump", 0, "", closeErr)
	}
	if err := f.Sync(); err != nil {
		return appErrors.Dump("failed to sync dump file", 0, "", err)
	}
	if err := f.Close(); err != nil {
		return appErrors.Dump("failed to close dump file", 0, "", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"database": s.opts.Database.Database,
		"path":     destPath,
	}).Debug("Database dump written")
	return nil
}

// Restore pipes sqlPath into the mysql client. The client stops at the first
// failing statement.
func (s *MySQLSnapshotter) Restore(ctx context.Context, sqlPath string) error {
	f, err := os.Open(sqlPath)
	if err != nil {
		return appErrors.RestoreFailed("failed to open dump file", 0, "", err).WithContext("path", sqlPath)
	}
	defer f.Close()

	r, err := compression.NewReader(f, compression.FromPath(sqlPath))
	if err != nil {
		return appErrors.RestoreFailed("failed to decode dump file", 0, "", err).WithContext("path", sqlPath)
	}
	defer r.Close()

	result, err := s.run(ctx, s.opts.ClientPath, s.clientArgs(), r, io.Discard)
	if err != nil {
		msg := "mysql client failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("mysql client timed out after %s", s.opts.Timeout)
		}
		return appErrors.RestoreFailed(msg, result.ExitCode, result.Stderr, err).
			WithContext("path", sqlPath)
	}
	return nil
}

// Wipe drops all views, tables, sequences, routines and events of the schema
func (s *MySQLSnapshotter) Wipe(ctx context.Context) error {
	if s.db == nil {
		return appErrors.Wipe("no database connection", nil)
	}

	stats, err := wipeSchema(ctx, s.db, s.opts.Database.Database)
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"database":   s.opts.Database.Database,
		"views":      stats.Views,
		"tables":     stats.Tables,
		"sequences":  stats.Sequences,
		"procedures": stats.Procedures,
		"functions":  stats.Functions,
		"events":     stats.Events,
	}).Info("Database schema wiped")
	return nil
}

func (s *MySQLSnapshotter) run(ctx context.Context, tool string, args []string, stdin io.Reader, stdout io.Writer) (CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	result, err := s.runner.Run(ctx, Command{
		Path:   tool,
		Args:   args,
		Env:    s.opts.Database.ToolEnv(),
		Stdin:  stdin,
		Stdout: stdout,
	})
	s.logger.LogToolInvocation(filepath.Base(tool), args, result.Duration, result.ExitCode, err)
	return result, err
}
