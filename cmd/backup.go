package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cms-backup/internal/application"
	"cms-backup/internal/catalog"
	"cms-backup/internal/display"
	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/mirror"

	"github.com/spf13/cobra"
)

var (
	// Download flags
	downloadOutput string
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create and manage backup archives",
	Long: `Create, list, validate and delete the backup archives held in the
backup directory, and exchange them with the configured mirror.

Examples:
  # Create a backup of the database and uploads
  cms-backup backup create

  # List stored archives as JSON
  cms-backup backup list --format json

  # Delete archives older than 14 days
  cms-backup backup cleanup 14`,
}

var backupListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored archives, newest first",
	Args:    cobra.NoArgs,
	RunE:    withEnvironment(runBackupList),
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new backup archive",
	Long: `Dump the database and copy the uploads directory into a new archive
named backup-<timestamp>.zip. Only one backup or restore runs at a time.`,
	Args: cobra.NoArgs,
	RunE: withEnvironment(runBackupCreate),
}

var backupUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Add an existing archive to the catalog",
	Long: `Copy a backup archive produced elsewhere into the catalog. The archive is
checked first and rejected when it does not contain a database dump.`,
	Args: cobra.ExactArgs(1),
	RunE: withEnvironment(runBackupUpload),
}

var backupDownloadCmd = &cobra.Command{
	Use:   "download <name>",
	Short: "Copy an archive out of the catalog",
	Long: `Write a stored archive to a file, or to standard output with -o -.

Examples:
  cms-backup backup download backup-20240601-120000.zip -o /tmp/site.zip`,
	Args: cobra.ExactArgs(1),
	RunE: withEnvironment(runBackupDownload),
}

var backupDeleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a stored archive",
	Args:    cobra.ExactArgs(1),
	RunE:    withEnvironment(runBackupDelete),
}

var backupCleanupCmd = &cobra.Command{
	Use:   "cleanup [days]",
	Short: "Delete archives older than the retention period",
	Long: `Delete every archive older than the given number of days. Without an
argument, retention.max_age_days from the configuration is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withEnvironment(runBackupCleanup),
}

var backupValidateCmd = &cobra.Command{
	Use:   "validate <name>",
	Short: "Check that an archive can be restored",
	Args:  cobra.ExactArgs(1),
	RunE:  withEnvironment(runBackupValidate),
}

var backupRemoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "List the archives held by the mirror",
	Args:  cobra.NoArgs,
	RunE:  withEnvironment(runBackupRemote),
}

var backupPullCmd = &cobra.Command{
	Use:   "pull <name>",
	Short: "Copy an archive from the mirror into the catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  withEnvironment(runBackupPull),
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupUploadCmd)
	backupCmd.AddCommand(backupDownloadCmd)
	backupCmd.AddCommand(backupDeleteCmd)
	backupCmd.AddCommand(backupCleanupCmd)
	backupCmd.AddCommand(backupValidateCmd)
	backupCmd.AddCommand(backupRemoteCmd)
	backupCmd.AddCommand(backupPullCmd)

	backupDownloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "destination file, or - for stdout (default ./<name>)")
}

func runBackupList(ctx context.Context, env *environment, args []string) error {
	entries, err := env.svc.List(ctx)
	if err != nil {
		return err
	}

	p := env.printer
	if p.Structured() {
		if entries == nil {
			entries = []catalog.Entry{}
		}
		return p.Emit(entries)
	}
	if len(entries) == 0 {
		p.Info("No backups found in %s", env.cfg.Paths.BackupDir)
		return nil
	}
	return p.Table(entryTable(entries, time.Now()))
}

func entryTable(entries []catalog.Entry, now time.Time) *display.Table {
	table := display.NewTable("NAME", "SIZE", "CREATED", "AGE", "SOURCE")
	table.SetAlignment(1, display.AlignRight)
	for _, e := range entries {
		table.AddRow(
			e.Filename,
			display.FormatBytes(e.Size),
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			display.FormatAge(e.CreatedAt, now),
			string(e.Provenance),
		)
	}
	return table
}

func runBackupCreate(ctx context.Context, env *environment, args []string) error {
	p := env.printer

	job, err := env.svc.Create(ctx)
	if err != nil {
		return err
	}

	spinner := p.Spinner()
	spinner.Start("Creating backup...")
	result, err := waitForJob(ctx, env, job)
	spinner.Stop("")
	if err != nil {
		return err
	}

	entry := result.(catalog.Entry)
	if p.Structured() {
		return p.Emit(entry)
	}
	p.Success("Backup created in %s", display.FormatDuration(job.Duration()))
	printEntry(p, entry)
	return nil
}

func runBackupUpload(ctx context.Context, env *environment, args []string) error {
	source := args[0]
	f, err := os.Open(source)
	if err != nil {
		if os.IsNotExist(err) {
			return appErrors.NotFound(source)
		}
		return appErrors.Storage("cannot open archive", err).WithContext("path", source)
	}
	defer f.Close()

	entry, err := env.svc.Upload(ctx, filepath.Base(source), f)
	if err != nil {
		return err
	}

	p := env.printer
	if p.Structured() {
		return p.Emit(entry)
	}
	p.Success("Archive stored as %s", entry.Filename)
	printEntry(p, entry)
	return nil
}

func runBackupDownload(ctx context.Context, env *environment, args []string) error {
	name := args[0]
	if err := catalog.ValidateName(name); err != nil {
		return err
	}

	target := downloadOutput
	if target == "" {
		target = name
	}

	var w io.Writer
	if target == "-" {
		w = os.Stdout
	} else {
		f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			return appErrors.Storage("cannot create output file", err).WithContext("path", target)
		}
		defer f.Close()
		w = f
	}

	entry, err := env.svc.Download(ctx, name, w)
	if err != nil {
		if target != "-" {
			os.Remove(target)
		}
		return err
	}

	if target != "-" {
		env.printer.Success("Wrote %s (%s) to %s", entry.Filename, display.FormatBytes(entry.Size), target)
	}
	return nil
}

func runBackupDelete(ctx context.Context, env *environment, args []string) error {
	if err := env.svc.Delete(ctx, args[0]); err != nil {
		return err
	}
	env.printer.Success("Deleted %s", args[0])
	return nil
}

func runBackupCleanup(ctx context.Context, env *environment, args []string) error {
	days := env.cfg.Retention.MaxAgeDays
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return appErrors.Validation(fmt.Sprintf("retention days must be a whole number, got %q", args[0]), err)
		}
		days = n
	}

	deleted, err := env.svc.Cleanup(ctx, days)
	if err != nil {
		return err
	}

	p := env.printer
	if p.Structured() {
		return p.Emit(map[string]int{"deleted": deleted, "retention_days": days})
	}
	if deleted == 0 {
		p.Info("No backups older than %d days", days)
		return nil
	}
	p.Success("Deleted %d backup(s) older than %d days", deleted, days)
	return nil
}

func runBackupValidate(ctx context.Context, env *environment, args []string) error {
	v, err := env.svc.Validate(ctx, args[0])
	if err != nil {
		return err
	}

	p := env.printer
	if p.Structured() {
		if err := p.Emit(v); err != nil {
			return err
		}
	} else {
		printValidation(p, v)
	}

	if !v.Valid() {
		return v.Issues.Err("archive is not a restorable backup")
	}
	return nil
}

func printValidation(p *display.Printer, v *application.Validation) {
	printEntry(p, v.Entry)
	if m := v.Manifest; m != nil {
		p.KeyValues([][2]string{
			{"Database", m.Database},
			{"Dumped at", m.CreatedAt.Local().Format(time.RFC3339)},
			{"Dump tool", m.DumpTool},
			{"Uploads", fmt.Sprintf("%d files, %s", m.UploadsFiles, display.FormatBytes(m.UploadsBytes))},
		})
	}
	if v.Valid() {
		p.Success("%s is a restorable backup", v.Entry.Filename)
		return
	}
	for _, issue := range v.Issues {
		p.Warning("%s", issue.Error())
	}
}

func runBackupRemote(ctx context.Context, env *environment, args []string) error {
	objects, err := env.svc.Remote(ctx)
	if err != nil {
		return err
	}

	p := env.printer
	if p.Structured() {
		if objects == nil {
			objects = []mirror.Object{}
		}
		return p.Emit(objects)
	}
	if len(objects) == 0 {
		p.Info("The mirror holds no backups")
		return nil
	}

	now := time.Now()
	table := display.NewTable("NAME", "SIZE", "MODIFIED", "AGE")
	table.SetAlignment(1, display.AlignRight)
	for _, o := range objects {
		table.AddRow(o.Name, display.FormatBytes(o.Size), o.ModTime.Local().Format("2006-01-02 15:04:05"), display.FormatAge(o.ModTime, now))
	}
	return p.Table(table)
}

func runBackupPull(ctx context.Context, env *environment, args []string) error {
	spinner := env.printer.Spinner()
	spinner.Start("Fetching " + args[0] + "...")
	entry, err := env.svc.Pull(ctx, args[0])
	spinner.Stop("")
	if err != nil {
		return err
	}

	p := env.printer
	if p.Structured() {
		return p.Emit(entry)
	}
	p.Success("Pulled %s", entry.Filename)
	printEntry(p, entry)
	return nil
}

func printEntry(p *display.Printer, e catalog.Entry) {
	p.KeyValues([][2]string{
		{"Name", e.Filename},
		{"Size", display.FormatBytes(e.Size)},
		{"Created", e.CreatedAt.Local().Format(time.RFC3339)},
		{"Source", string(e.Provenance)},
	})
}
