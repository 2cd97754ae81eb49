package application

import (
	"errors"

	appErrors "cms-backup/internal/errors"
)

// Hints returns troubleshooting suggestions for err
func Hints(err error) []string {
	if err == nil {
		return nil
	}

	var rbErr *appErrors.RollbackError
	if errors.As(err, &rbErr) {
		hints := []string{
			"The database may be empty or partially restored",
			"Stop writes to the CMS before attempting recovery",
		}
		if rbErr.SnapshotDir != "" {
			hints = append(hints, "Restore the pre-restore dump in "+rbErr.SnapshotDir+" manually with the mysql client")
		}
		return hints
	}

	switch appErrors.KindOf(err) {
	case appErrors.KindInvalidName:
		return []string{
			"Archive names may only contain letters, digits, '.', '_' and '-' and must end in .zip",
			"Use 'backup list' to see the stored names",
		}
	case appErrors.KindNotFound:
		return []string{"Use 'backup list' to see the stored archives"}
	case appErrors.KindBusy:
		return []string{"Another backup or restore is running; wait for it to finish and retry"}
	case appErrors.KindDump:
		return []string{
			"Check that mysqldump is installed and on PATH (tools.dump_path)",
			"Verify the user has SELECT, SHOW VIEW, TRIGGER, EVENT and LOCK TABLES privileges",
		}
	case appErrors.KindRestore, appErrors.KindWipe:
		return []string{
			"The database was rolled back to its state before the restore",
			"Check the archive with 'backup validate' and the mysql client stderr above",
		}
	case appErrors.KindExtract, appErrors.KindValidation:
		return []string{"Run 'backup validate <file>' to list the problems with the archive"}
	case appErrors.KindConfig:
		return []string{
			"Check the configuration file and CMS_BACKUP_* environment variables",
			"Run 'config show' to see the effective settings",
		}
	case appErrors.KindStorage:
		return []string{
			"Check free disk space and permissions on the backup and uploads directories",
			"Check that the database server is reachable",
		}
	}
	return nil
}
