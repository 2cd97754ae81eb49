package database

import (
	"net"
	"strconv"
	"time"

	appErrors "cms-backup/internal/errors"

	"github.com/go-sql-driver/mysql"
)

// Config holds the connection parameters for the CMS database
type Config struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Socket   string        `mapstructure:"socket" yaml:"socket,omitempty"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Database string        `mapstructure:"database" yaml:"database"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Host == "" && c.Socket == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks that the configuration has all required parameters
func (c *Config) Validate() error {
	var errs appErrors.ValidationErrors

	if c.Host == "" && c.Socket == "" {
		errs.Add("database.host", "host or socket is required", nil)
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs.Add("database.port", "port must be between 1 and 65535", c.Port)
	}
	if c.Username == "" {
		errs.Add("database.username", "username is required", nil)
	}
	if c.Database == "" {
		errs.Add("database.database", "database name is required", nil)
	}

	return errs.Err("database configuration validation failed")
}

// DSN returns the Data Source Name for the MySQL driver.
// multiStatements stays off; the wipe issues one statement per call.
func (c *Config) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.DBName = c.Database
	cfg.Timeout = c.Timeout
	cfg.ParseTime = true
	if c.Socket != "" {
		cfg.Net = "unix"
		cfg.Addr = c.Socket
	} else {
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	return cfg.FormatDSN()
}

// ToolArgs returns the connection flags shared by mysqldump and mysql.
// The password is never part of argv; see ToolEnv.
func (c *Config) ToolArgs() []string {
	args := []string{"--user=" + c.Username}
	if c.Socket != "" {
		args = append(args, "--socket="+c.Socket)
	} else {
		args = append(args, "--host="+c.Host, "--port="+strconv.Itoa(c.Port), "--protocol=TCP")
	}
	return args
}

// ToolEnv returns environment entries carrying the password for the client tools
func (c *Config) ToolEnv() []string {
	if c.Password == "" {
		return nil
	}
	return []string{"MYSQL_PWD=" + c.Password}
}
