package cmd

import (
	"context"
	"errors"
	"os"
	"strings"

	"cms-backup/internal/confirmation"
	"cms-backup/internal/display"
	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/execution"
	"cms-backup/internal/restore"

	"github.com/spf13/cobra"
)

var (
	restoreDatabase bool
	restoreFiles    bool
	autoApprove     bool
)

// restoreCmd restores a stored archive over the live system
var restoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Restore the database and uploads from an archive",
	Long: `Replace the live database and/or uploads directory with the contents of a
stored archive. Without --db or --files both are restored.

The archive is validated and the current state snapshotted before anything is
changed. If the database restore fails, the snapshot is loaded back. If that
rollback also fails, the snapshot is kept on disk and its location reported.

Exit codes:
  0  restore succeeded
  2  invalid archive name or archive failed validation
  3  another backup or restore is running
  4  database restore failed and was rolled back
  5  rollback failed, manual recovery required

Examples:
  # Restore everything after confirming
  cms-backup restore backup-20240601-120000.zip

  # Restore only the uploads, without prompting
  cms-backup restore backup-20240601-120000.zip --files --yes`,
	Args: cobra.ExactArgs(1),
	RunE: withEnvironment(runRestore),
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().BoolVar(&restoreDatabase, "db", false, "restore the database")
	restoreCmd.Flags().BoolVar(&restoreFiles, "files", false, "restore the uploads directory")
	restoreCmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "do not ask for confirmation")
}

// restoreOptions resolves the component flags; no flag means both
func restoreOptions(db, files bool) restore.Options {
	if !db && !files {
		return restore.Options{Database: true, Files: true}
	}
	return restore.Options{Database: db, Files: files}
}

func runRestore(ctx context.Context, env *environment, args []string) error {
	name := args[0]
	p := env.printer
	opts := restoreOptions(restoreDatabase, restoreFiles)

	v, err := env.svc.Validate(ctx, name)
	if err != nil {
		return err
	}
	if !v.Valid() {
		printValidation(p, v)
		return v.Issues.Err("archive is not a restorable backup")
	}

	if !autoApprove && !display.Interactive(os.Stdin) {
		return appErrors.Validation("refusing to restore without confirmation; pass --yes when running non-interactively", nil)
	}
	plan := confirmation.RestorePlan{
		Archive:    v.Entry.Filename,
		Size:       v.Entry.Size,
		Database:   env.cfg.Database.Database,
		Uploads:    env.cfg.Paths.UploadsDir,
		RestoreDB:  opts.Database,
		RestoreFS:  opts.Files,
		HasUploads: v.Manifest != nil && v.Manifest.UploadsFiles > 0,
	}
	confirm := confirmation.NewService(os.Stdin, os.Stderr, p.Colors())
	if err := confirm.ConfirmRestore(ctx, plan, autoApprove); err != nil {
		if errors.Is(err, confirmation.ErrDeclined) {
			p.Info("Restore cancelled")
			return nil
		}
		return err
	}

	spinner := p.Spinner()
	opts.OnPhase = func(phase restore.Phase) {
		spinner.Update(phaseMessage(phase))
	}

	spinner.Start("Starting restore...")
	job, err := env.svc.Restore(ctx, name, opts)
	if err != nil {
		spinner.Stop("")
		return err
	}
	value, err := waitForJob(ctx, env, job)
	spinner.Stop("")

	result, _ := value.(*restore.Result)
	if result != nil {
		if p.Structured() {
			if emitErr := p.Emit(result); emitErr != nil && err == nil {
				return emitErr
			}
		} else {
			printRestoreResult(p, result)
		}
	}
	if err != nil {
		return err
	}

	p.Success("Restored %s in %s", name, display.FormatDuration(result.Duration()))
	return nil
}

// waitForJob waits for job. An interrupt does not stop a running job, so
// after one it keeps waiting and says so.
func waitForJob(ctx context.Context, env *environment, job *execution.Job) (any, error) {
	result, err := job.Wait(ctx)
	if ctx.Err() == nil {
		return result, err
	}
	if job.Status() == execution.StatusRunning {
		env.printer.Warning("Interrupted; waiting for the running %s to finish so the system is left consistent", job.Op)
	}
	return job.Wait(context.Background())
}

func phaseMessage(phase restore.Phase) string {
	switch phase {
	case restore.PhaseExtracting:
		return "Extracting archive..."
	case restore.PhaseValidating:
		return "Validating archive contents..."
	case restore.PhaseSnapshotting:
		return "Snapshotting current database and uploads..."
	case restore.PhaseRestoringDatabase:
		return "Restoring database..."
	case restore.PhaseRollingBack:
		return "Database restore failed, rolling back..."
	case restore.PhaseRestoringFiles:
		return "Restoring uploads..."
	case restore.PhaseFinalizing:
		return "Cleaning up..."
	default:
		return strings.ReplaceAll(string(phase), "_", " ")
	}
}

func printRestoreResult(p *display.Printer, r *restore.Result) {
	pairs := [][2]string{
		{"Restore ID", r.ID},
		{"Archive", r.Archive},
		{"Database", componentText(p, r.Database)},
		{"Files", componentText(p, r.Files)},
		{"Rollback", string(r.Rollback)},
		{"Duration", display.FormatDuration(r.Duration())},
	}
	if r.SnapshotDir != "" {
		pairs = append(pairs, [2]string{"Snapshot", r.SnapshotDir})
	}
	p.KeyValues(pairs)
}

func componentText(p *display.Printer, c restore.ComponentResult) string {
	var clr display.Color
	switch c.Status {
	case restore.StatusSuccess, restore.StatusCleaned:
		clr = display.ColorGreen
	case restore.StatusError:
		clr = display.ColorRed
	default:
		clr = display.ColorFaint
	}
	text := p.Colorize(string(c.Status), clr)
	if c.Detail != "" {
		text += " (" + c.Detail + ")"
	}
	return text
}
