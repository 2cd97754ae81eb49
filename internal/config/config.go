// Package config loads cms-backup settings from a YAML file, environment
// variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cms-backup/internal/compression"
	"cms-backup/internal/database"
	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/logging"
	"cms-backup/internal/mirror"
)

// Config is the complete application configuration
type Config struct {
	Database  database.Config       `mapstructure:"database" yaml:"database"`
	Paths     PathsConfig           `mapstructure:"paths" yaml:"paths"`
	Tools     ToolsConfig           `mapstructure:"tools" yaml:"tools"`
	Archive   ArchiveConfig         `mapstructure:"archive" yaml:"archive"`
	Snapshot  SnapshotConfig        `mapstructure:"snapshot" yaml:"snapshot"`
	Retention RetentionConfig       `mapstructure:"retention" yaml:"retention"`
	Mirror    mirror.Config         `mapstructure:"mirror" yaml:"mirror"`
	Retry     appErrors.RetryConfig `mapstructure:"retry" yaml:"retry"`
	Logging   LoggingConfig         `mapstructure:"logging" yaml:"logging"`
	Display   DisplayConfig         `mapstructure:"display" yaml:"display"`
}

// PathsConfig locates the catalog, the live uploads tree and scratch space
type PathsConfig struct {
	BackupDir  string `mapstructure:"backup_dir" yaml:"backup_dir"`
	UploadsDir string `mapstructure:"uploads_dir" yaml:"uploads_dir"`
	TempDir    string `mapstructure:"temp_dir" yaml:"temp_dir"`
}

// ToolsConfig configures the external dump and client binaries
type ToolsConfig struct {
	DumpPath      string        `mapstructure:"dump_path" yaml:"dump_path"`
	ClientPath    string        `mapstructure:"client_path" yaml:"client_path"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ExtraDumpArgs []string      `mapstructure:"extra_dump_args" yaml:"extra_dump_args,omitempty"`
}

// ArchiveConfig controls the zip container
type ArchiveConfig struct {
	// CompressionLevel is the deflate level, 1-9, or 0 for the library default.
	CompressionLevel int `mapstructure:"compression_level" yaml:"compression_level"`
}

// SnapshotConfig controls the pre-restore safety snapshot
type SnapshotConfig struct {
	Compression string `mapstructure:"compression" yaml:"compression"`

	// CompressionLevel is passed to the snapshot codec, 1-9, or 0 for its default.
	CompressionLevel int `mapstructure:"compression_level" yaml:"compression_level"`
}

// RetentionConfig is the default age rule for cleanup
type RetentionConfig struct {
	MaxAgeDays int `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// LoggingConfig configures the operational and audit logs
type LoggingConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	Format    string `mapstructure:"format" yaml:"format"`
	File      string `mapstructure:"file" yaml:"file,omitempty"`
	AuditFile string `mapstructure:"audit_file" yaml:"audit_file,omitempty"`
}

// DisplayConfig configures terminal output
type DisplayConfig struct {
	Color  bool   `mapstructure:"color" yaml:"color"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every unset field
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()

	if c.Paths.BackupDir == "" {
		c.Paths.BackupDir = "./backups"
	}
	if c.Paths.TempDir == "" {
		c.Paths.TempDir = os.TempDir()
	}

	if c.Tools.DumpPath == "" {
		c.Tools.DumpPath = "mysqldump"
	}
	if c.Tools.ClientPath == "" {
		c.Tools.ClientPath = "mysql"
	}
	if c.Tools.Timeout <= 0 {
		c.Tools.Timeout = 30 * time.Minute
	}

	if c.Snapshot.Compression == "" {
		c.Snapshot.Compression = string(compression.TypeZstd)
	}
	if c.Retention.MaxAgeDays == 0 {
		c.Retention.MaxAgeDays = 30
	}

	c.Mirror.SetDefaults()

	defaults := appErrors.DefaultRetryConfig()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = defaults.MaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = defaults.BaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = defaults.MaxDelay
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = defaults.Multiplier
	}

	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LogLevelNormal)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Display.Format == "" {
		c.Display.Format = "table"
	}
}

// Validate checks the whole configuration and reports every problem at once
func (c *Config) Validate() error {
	var issues appErrors.ValidationErrors

	if err := c.Database.Validate(); err != nil {
		issues = append(issues, nestedIssues(err, "database")...)
	}

	if c.Paths.BackupDir == "" {
		issues.Add("paths.backup_dir", "backup directory is required", nil)
	}
	if c.Paths.UploadsDir != "" && c.Paths.BackupDir != "" {
		uploads, _ := filepath.Abs(c.Paths.UploadsDir)
		backups, _ := filepath.Abs(c.Paths.BackupDir)
		if uploads == backups || isWithin(backups, uploads) {
			issues.Add("paths.backup_dir", "backup directory must not be inside the uploads directory", c.Paths.BackupDir)
		}
	}

	if c.Tools.Timeout < 0 {
		issues.Add("tools.timeout", "timeout must not be negative", c.Tools.Timeout.String())
	}
	if c.Archive.CompressionLevel < 0 || c.Archive.CompressionLevel > 9 {
		issues.Add("archive.compression_level", "level must be between 0 and 9", c.Archive.CompressionLevel)
	}
	if _, err := compression.ParseType(c.Snapshot.Compression); err != nil {
		issues.Add("snapshot.compression", err.Error(), c.Snapshot.Compression)
	}
	if c.Snapshot.CompressionLevel < 0 || c.Snapshot.CompressionLevel > 9 {
		issues.Add("snapshot.compression_level", "level must be between 0 and 9", c.Snapshot.CompressionLevel)
	}
	if c.Retention.MaxAgeDays < 1 {
		issues.Add("retention.max_age_days", "must be at least 1", c.Retention.MaxAgeDays)
	}

	if err := c.Mirror.Validate(); err != nil {
		issues = append(issues, nestedIssues(err, "mirror")...)
	}

	switch logging.LogLevel(c.Logging.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		issues.Add("logging.level", "must be one of quiet, normal, verbose, debug", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		issues.Add("logging.format", "must be text or json", c.Logging.Format)
	}
	switch c.Display.Format {
	case "table", "json", "yaml":
	default:
		issues.Add("display.format", "must be one of table, json, yaml", c.Display.Format)
	}

	return issues.Err("configuration validation failed")
}

// SnapshotCompression returns the parsed snapshot codec
func (c *Config) SnapshotCompression() compression.Type {
	t, err := compression.ParseType(c.Snapshot.Compression)
	if err != nil {
		return compression.TypeNone
	}
	return t
}

// LoggerConfig converts the logging section for logging.NewLogger
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:   logging.LogLevel(c.Logging.Level),
		Format:  c.Logging.Format,
		LogFile: c.Logging.File,
	}
}

// nestedIssues flattens a sub-config's validation failure into issues.
// Sub-configs already prefix their field names.
func nestedIssues(err error, field string) appErrors.ValidationErrors {
	var ve appErrors.ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	var nested appErrors.ValidationErrors
	nested.Add(field, err.Error(), nil)
	return nested
}

func isWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// String renders a one-line summary without secrets
func (c *Config) String() string {
	return fmt.Sprintf("database=%s@%s:%d/%s backups=%s uploads=%s mirror=%s",
		c.Database.Username, c.Database.Host, c.Database.Port, c.Database.Database,
		c.Paths.BackupDir, c.Paths.UploadsDir, c.Mirror.Provider)
}
