package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, open func(driver, dsn string) (*sql.DB, error)) *Service {
	t.Helper()
	s := NewService(logging.NewNopLogger(), appErrors.NewRetryHandler(appErrors.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Multiplier:  1,
	}))
	s.openDB = open
	return s
}

func validConfig() Config {
	return Config{Host: "db", Port: 3306, Username: "cms", Database: "cms", Timeout: time.Second}
}

func TestConnect_InvalidConfig(t *testing.T) {
	s := newTestService(t, func(string, string) (*sql.DB, error) {
		t.Fatal("openDB must not be called for an invalid config")
		return nil, nil
	})

	_, err := s.Connect(context.Background(), Config{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestConnect_PingsAndReturnsDB(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()

	var gotDSN string
	s := newTestService(t, func(driver, dsn string) (*sql.DB, error) {
		assert.Equal(t, "mysql", driver)
		gotDSN = dsn
		return db, nil
	})

	conn, err := s.Connect(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Same(t, db, conn)
	assert.Contains(t, gotDSN, "tcp(db:3306)/cms")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnect_RetriesTransientPingFailure(t *testing.T) {
	attempts := 0
	s := newTestService(t, func(string, string) (*sql.DB, error) {
		attempts++
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		if attempts == 1 {
			mock.ExpectPing().WillReturnError(&mysql.MySQLError{Number: 2003, Message: "Can't connect"})
		} else {
			mock.ExpectPing()
		}
		return db, nil
	})

	conn, err := s.Connect(context.Background(), validConfig())
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, 2, attempts)
}

func TestConnect_PermanentFailureIsNotRetried(t *testing.T) {
	attempts := 0
	s := newTestService(t, func(string, string) (*sql.DB, error) {
		attempts++
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		mock.ExpectPing().WillReturnError(&mysql.MySQLError{Number: 1045, Message: "Access denied"})
		return db, nil
	})

	_, err := s.Connect(context.Background(), validConfig())
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var mysqlErr *mysql.MySQLError
	require.True(t, errors.As(err, &mysqlErr))
	assert.Equal(t, uint16(1045), mysqlErr.Number)
}

func TestGetVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT VERSION\\(\\)").
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))

	s := NewService(logging.NewNopLogger(), nil)
	version, err := s.GetVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "8.0.36", version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilDB(t *testing.T) {
	s := NewService(logging.NewNopLogger(), nil)

	assert.Error(t, s.TestConnection(context.Background(), nil))
	_, err := s.GetVersion(context.Background(), nil)
	assert.Error(t, err)
	assert.NoError(t, s.Close(nil))
}
