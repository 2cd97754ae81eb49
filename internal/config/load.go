package config

import (
	"errors"
	"sort"
	"strings"

	appErrors "cms-backup/internal/errors"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override,
// e.g. CMS_BACKUP_DATABASE_PASSWORD.
const EnvPrefix = "CMS_BACKUP"

// ConfigName is the base name searched for when no --config is given
const ConfigName = ".cms-backup"

// Setup points v at the config file and enables environment overrides.
// An empty configPath searches the working directory and $HOME.
func Setup(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/cms-backup")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	RegisterDefaults(v)
}

// RegisterDefaults declares every key with its default so that
// environment variables are seen by Unmarshal.
func RegisterDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.socket", "")
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "")
	v.SetDefault("database.timeout", d.Database.Timeout)

	v.SetDefault("paths.backup_dir", d.Paths.BackupDir)
	v.SetDefault("paths.uploads_dir", "")
	v.SetDefault("paths.temp_dir", d.Paths.TempDir)

	v.SetDefault("tools.dump_path", d.Tools.DumpPath)
	v.SetDefault("tools.client_path", d.Tools.ClientPath)
	v.SetDefault("tools.timeout", d.Tools.Timeout)
	v.SetDefault("tools.extra_dump_args", []string{})

	v.SetDefault("archive.compression_level", d.Archive.CompressionLevel)
	v.SetDefault("snapshot.compression", d.Snapshot.Compression)
	v.SetDefault("snapshot.compression_level", d.Snapshot.CompressionLevel)
	v.SetDefault("retention.max_age_days", d.Retention.MaxAgeDays)

	v.SetDefault("mirror.provider", string(d.Mirror.Provider))
	v.SetDefault("mirror.prefix", d.Mirror.Prefix)
	v.SetDefault("mirror.s3.bucket", "")
	v.SetDefault("mirror.s3.region", "")
	v.SetDefault("mirror.s3.access_key", "")
	v.SetDefault("mirror.s3.secret_key", "")
	v.SetDefault("mirror.s3.endpoint", "")
	v.SetDefault("mirror.s3.force_path_style", false)
	v.SetDefault("mirror.azure.account_name", "")
	v.SetDefault("mirror.azure.account_key", "")
	v.SetDefault("mirror.azure.container_name", "")
	v.SetDefault("mirror.gcs.bucket", "")
	v.SetDefault("mirror.gcs.credentials_path", "")

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.audit_file", "")

	v.SetDefault("display.color", true)
	v.SetDefault("display.format", d.Display.Format)
}

// Load reads the config file (if any) and decodes v into a validated Config.
// A missing file is not an error when no explicit path was given.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, appErrors.Config("error reading config file", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, appErrors.Config("failed to decode configuration", err)
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnvironmentVariables lists the override variable for every known key
func EnvironmentVariables(v *viper.Viper) []string {
	keys := v.AllKeys()
	sort.Strings(keys)
	vars := make([]string, 0, len(keys))
	for _, key := range keys {
		vars = append(vars, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	return vars
}
