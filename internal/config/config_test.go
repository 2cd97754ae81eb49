package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cms-backup/internal/compression"
	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/mirror"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Database.Username = "cms"
	cfg.Database.Database = "cms"
	cfg.Paths.BackupDir = "/var/backups/cms"
	cfg.Paths.UploadsDir = "/srv/cms/uploads"
	cfg.SetDefaults()
	return cfg
}

func TestSetDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "./backups", cfg.Paths.BackupDir)
	assert.Equal(t, "mysqldump", cfg.Tools.DumpPath)
	assert.Equal(t, "mysql", cfg.Tools.ClientPath)
	assert.Equal(t, 30*time.Minute, cfg.Tools.Timeout)
	assert.Equal(t, 30, cfg.Retention.MaxAgeDays)
	assert.Equal(t, mirror.ProviderNone, cfg.Mirror.Provider)
	assert.Equal(t, compression.TypeZstd, cfg.SnapshotCompression())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "table", cfg.Display.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing database name", func(c *Config) { c.Database.Database = "" }, "database.database"},
		{"bad port", func(c *Config) { c.Database.Port = 70000 }, "database.port"},
		{"backups inside uploads", func(c *Config) { c.Paths.BackupDir = "/srv/cms/uploads/backups" }, "paths.backup_dir"},
		{"backups equal uploads", func(c *Config) { c.Paths.BackupDir = "/srv/cms/uploads" }, "paths.backup_dir"},
		{"bad compression level", func(c *Config) { c.Archive.CompressionLevel = 12 }, "archive.compression_level"},
		{"unknown snapshot codec", func(c *Config) { c.Snapshot.Compression = "rar" }, "snapshot.compression"},
		{"bad snapshot level", func(c *Config) { c.Snapshot.CompressionLevel = -1 }, "snapshot.compression_level"},
		{"negative retention", func(c *Config) { c.Retention.MaxAgeDays = -1 }, "retention.max_age_days"},
		{"mirror without bucket", func(c *Config) { c.Mirror.Provider = mirror.ProviderS3 }, "mirror.s3.bucket"},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
		{"bad output format", func(c *Config) { c.Display.Format = "xml" }, "display.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrValidation))

			var issues appErrors.ValidationErrors
			require.True(t, errors.As(err, &issues))
			fields := make([]string, 0, len(issues))
			for _, issue := range issues {
				fields = append(fields, issue.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cms-backup.yaml")
	content := `database:
  host: db.internal
  username: cms
  database: cms_prod
paths:
  backup_dir: /var/backups/cms
  uploads_dir: /srv/cms/uploads
tools:
  timeout: 5m
snapshot:
  compression: gzip
  compression_level: 6
retention:
  max_age_days: 14
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CMS_BACKUP_DATABASE_PASSWORD", "s3cret")
	t.Setenv("CMS_BACKUP_MIRROR_PROVIDER", "gcs")
	t.Setenv("CMS_BACKUP_MIRROR_GCS_BUCKET", "cms-offsite")

	v := viper.New()
	Setup(v, path)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "cms_prod", cfg.Database.Database)
	assert.Equal(t, 5*time.Minute, cfg.Tools.Timeout)
	assert.Equal(t, 14, cfg.Retention.MaxAgeDays)
	assert.Equal(t, compression.TypeGzip, cfg.SnapshotCompression())
	assert.Equal(t, 6, cfg.Snapshot.CompressionLevel)
	assert.Equal(t, mirror.ProviderGCS, cfg.Mirror.Provider)
	assert.Equal(t, "cms-offsite", cfg.Mirror.GCS.Bucket)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	v := viper.New()
	Setup(v, filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load(v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConfig))
}

func TestLoad_InvalidReportsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cms-backup.yaml")
	require.NoError(t, os.WriteFile(path, []byte("paths:\n  backup_dir: /tmp/b\n"), 0o600))

	v := viper.New()
	Setup(v, path)
	_, err := Load(v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestSampleParses(t *testing.T) {
	var raw map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(Sample()), &raw))
	for _, section := range []string{"database", "paths", "tools", "archive", "snapshot", "retention", "mirror", "logging", "display"} {
		assert.Contains(t, raw, section)
	}
}

func TestMarshalMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Password = "s3cret"
	cfg.Mirror.S3.SecretKey = "aws-secret"

	data, err := Marshal(cfg)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "s3cret")
	assert.NotContains(t, out, "aws-secret")
	assert.True(t, strings.Contains(out, redacted))
	assert.Equal(t, "s3cret", cfg.Database.Password)
}

func TestEnvironmentVariables(t *testing.T) {
	v := viper.New()
	RegisterDefaults(v)
	vars := EnvironmentVariables(v)
	assert.Contains(t, vars, "CMS_BACKUP_DATABASE_PASSWORD")
	assert.Contains(t, vars, "CMS_BACKUP_MIRROR_S3_BUCKET")
	assert.Contains(t, vars, "CMS_BACKUP_RETENTION_MAX_AGE_DAYS")
}
