package mirror

import (
	"fmt"
	"strings"

	appErrors "cms-backup/internal/errors"
)

// Provider names a remote object store
type Provider string

const (
	ProviderNone  Provider = "none"
	ProviderS3    Provider = "s3"
	ProviderAzure Provider = "azure"
	ProviderGCS   Provider = "gcs"
)

// Config selects and configures the remote copy of the archive catalog
type Config struct {
	Provider Provider    `mapstructure:"provider" yaml:"provider"`
	Prefix   string      `mapstructure:"prefix" yaml:"prefix"`
	S3       S3Config    `mapstructure:"s3" yaml:"s3"`
	Azure    AzureConfig `mapstructure:"azure" yaml:"azure"`
	GCS      GCSConfig   `mapstructure:"gcs" yaml:"gcs"`
}

// S3Config holds Amazon S3 (or S3-compatible) settings
type S3Config struct {
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	Region         string `mapstructure:"region" yaml:"region"`
	AccessKey      string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey      string `mapstructure:"secret_key" yaml:"secret_key"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// AzureConfig holds Azure Blob Storage settings
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
}

// GCSConfig holds Google Cloud Storage settings
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
}

// SetDefaults fills in unset values
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderNone
	}
	c.Provider = Provider(strings.ToLower(string(c.Provider)))
	if c.Prefix == "" {
		c.Prefix = "cms-backups/"
	}
	if !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	if c.Provider == ProviderS3 && c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
}

// Enabled reports whether a remote store is configured
func (c *Config) Enabled() bool {
	return c.Provider != "" && c.Provider != ProviderNone
}

// Validate checks that the selected provider has what it needs
func (c *Config) Validate() error {
	var issues appErrors.ValidationErrors

	switch c.Provider {
	case "", ProviderNone:
		return nil
	case ProviderS3:
		if c.S3.Bucket == "" {
			issues.Add("mirror.s3.bucket", "bucket is required", "")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			issues.Add("mirror.s3.access_key", "access key and secret key must be set together", "")
		}
	case ProviderAzure:
		if c.Azure.AccountName == "" {
			issues.Add("mirror.azure.account_name", "account name is required", "")
		}
		if c.Azure.AccountKey == "" {
			issues.Add("mirror.azure.account_key", "account key is required", "")
		}
		if c.Azure.ContainerName == "" {
			issues.Add("mirror.azure.container_name", "container name is required", "")
		}
	case ProviderGCS:
		if c.GCS.Bucket == "" {
			issues.Add("mirror.gcs.bucket", "bucket is required", "")
		}
	default:
		issues.Add("mirror.provider", fmt.Sprintf("unknown provider %q (want none, s3, azure or gcs)", c.Provider), string(c.Provider))
	}

	if issues.HasErrors() {
		return issues.Err("invalid mirror configuration")
	}
	return nil
}
