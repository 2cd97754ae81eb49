package database

import (
	"errors"
	"testing"
	"time"

	appErrors "cms-backup/internal/errors"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
		fields  []string
	}{
		{
			name:   "valid tcp",
			config: Config{Host: "db", Port: 3306, Username: "cms", Database: "cms"},
		},
		{
			name:   "valid socket",
			config: Config{Socket: "/run/mysqld/mysqld.sock", Port: 3306, Username: "cms", Database: "cms"},
		},
		{
			name:    "missing everything",
			config:  Config{},
			wantErr: true,
			fields:  []string{"database.host", "database.port", "database.username", "database.database"},
		},
		{
			name:    "port out of range",
			config:  Config{Host: "db", Port: 70000, Username: "cms", Database: "cms"},
			wantErr: true,
			fields:  []string{"database.port"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrValidation))

			var issues appErrors.ValidationErrors
			require.True(t, errors.As(err, &issues))
			var got []string
			for _, issue := range issues {
				got = append(got, issue.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	c := Config{}
	c.SetDefaults()

	assert.Equal(t, "localhost", c.Host)
	assert.Equal(t, 3306, c.Port)
	assert.Equal(t, 30*time.Second, c.Timeout)

	withSocket := Config{Socket: "/tmp/mysql.sock"}
	withSocket.SetDefaults()
	assert.Empty(t, withSocket.Host)
}

func TestConfig_DSN(t *testing.T) {
	c := Config{Host: "db.internal", Port: 3307, Username: "cms", Password: "s3cret", Database: "cms_prod", Timeout: 10 * time.Second}

	parsed, err := mysql.ParseDSN(c.DSN())
	require.NoError(t, err)
	assert.Equal(t, "cms", parsed.User)
	assert.Equal(t, "s3cret", parsed.Passwd)
	assert.Equal(t, "tcp", parsed.Net)
	assert.Equal(t, "db.internal:3307", parsed.Addr)
	assert.Equal(t, "cms_prod", parsed.DBName)
	assert.Equal(t, 10*time.Second, parsed.Timeout)
	assert.True(t, parsed.ParseTime)
	assert.False(t, parsed.MultiStatements)

	socket := Config{Socket: "/run/mysqld/mysqld.sock", Username: "cms", Database: "cms"}
	parsed, err = mysql.ParseDSN(socket.DSN())
	require.NoError(t, err)
	assert.Equal(t, "unix", parsed.Net)
	assert.Equal(t, "/run/mysqld/mysqld.sock", parsed.Addr)
}

func TestConfig_ToolArgsNeverContainPassword(t *testing.T) {
	c := Config{Host: "db", Port: 3306, Username: "cms", Password: "s3cret", Database: "cms"}

	args := c.ToolArgs()
	assert.Equal(t, []string{"--user=cms", "--host=db", "--port=3306", "--protocol=TCP"}, args)
	for _, a := range args {
		assert.NotContains(t, a, "s3cret")
	}
	assert.Equal(t, []string{"MYSQL_PWD=s3cret"}, c.ToolEnv())

	c.Password = ""
	assert.Nil(t, c.ToolEnv())
}
