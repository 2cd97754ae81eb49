package config

import (
	appErrors "cms-backup/internal/errors"

	"gopkg.in/yaml.v3"
)

const redacted = "********"

// Sample returns a commented sample configuration file
func Sample() string {
	return `# cms-backup configuration
# Every key can be overridden with CMS_BACKUP_<SECTION>_<KEY>,
# e.g. CMS_BACKUP_DATABASE_PASSWORD.

database:
  host: localhost         # MySQL host (ignored when socket is set)
  port: 3306
  # socket: /var/run/mysqld/mysqld.sock
  username: cms
  password: ""            # prefer CMS_BACKUP_DATABASE_PASSWORD
  database: cms
  timeout: 30s            # connection timeout

paths:
  backup_dir: ./backups   # archive catalog
  uploads_dir: ./uploads  # live uploaded-files tree
  temp_dir: ""            # scratch space for extraction and snapshots (default: system temp)

tools:
  dump_path: mysqldump
  client_path: mysql
  timeout: 30m            # per-invocation limit for dump and restore
  # extra_dump_args: ["--column-statistics=0"]

archive:
  compression_level: 0    # deflate level 1-9, 0 for default

snapshot:
  compression: zstd       # pre-restore snapshot codec: none, gzip, lz4, zstd
  compression_level: 0    # 1-9, 0 uses the codec default

retention:
  max_age_days: 30        # used by "backup cleanup" without an argument

mirror:
  provider: none          # none, s3, azure, gcs
  prefix: cms-backups/
  # s3:
  #   bucket: my-backups
  #   region: us-east-1
  #   access_key: ""
  #   secret_key: ""
  #   endpoint: ""        # for S3-compatible stores
  #   force_path_style: false
  # azure:
  #   account_name: ""
  #   account_key: ""
  #   container_name: backups
  # gcs:
  #   bucket: my-backups
  #   credentials_path: ""

retry:
  max_attempts: 3
  base_delay: 1s
  max_delay: 30s
  multiplier: 2

logging:
  level: normal           # quiet, normal, verbose, debug
  format: text            # text, json
  # file: /var/log/cms-backup.log
  # audit_file: /var/log/cms-backup-audit.log

display:
  color: true
  format: table           # table, json, yaml
`
}

// Marshal renders cfg as YAML with secrets masked
func Marshal(cfg *Config) ([]byte, error) {
	masked := *cfg
	if masked.Database.Password != "" {
		masked.Database.Password = redacted
	}
	if masked.Mirror.S3.SecretKey != "" {
		masked.Mirror.S3.SecretKey = redacted
	}
	if masked.Mirror.Azure.AccountKey != "" {
		masked.Mirror.Azure.AccountKey = redacted
	}

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, appErrors.Config("failed to render configuration", err)
	}
	return data, nil
}
