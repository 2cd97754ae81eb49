package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// Service opens and checks connections to the CMS database
type Service struct {
	logger       *logging.Logger
	retryHandler *appErrors.RetryHandler
	openDB       func(driver, dsn string) (*sql.DB, error)
}

// NewService creates a new database service
func NewService(logger *logging.Logger, retry *appErrors.RetryHandler) *Service {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if retry == nil {
		retry = appErrors.NewDefaultRetryHandler()
	}
	return &Service{
		logger:       logger,
		retryHandler: retry,
		openDB:       sql.Open,
	}
}

// Connect establishes a connection to the MySQL database with retry logic
func (s *Service) Connect(ctx context.Context, config Config) (*sql.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	startTime := time.Now()
	connectCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(connectCtx, func() error {
		var openErr error
		db, openErr = s.openDB("mysql", config.DSN())
		if openErr != nil {
			return appErrors.Config("failed to open database connection", openErr)
		}

		// The wipe relies on a dedicated connection; a small pool is enough.
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		if pingErr := s.TestConnection(connectCtx, db); pingErr != nil {
			db.Close()
			return pingErr
		}
		return nil
	})

	s.logger.LogDatabaseConnection(config.Host, config.Database, err == nil, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// TestConnection verifies that the database connection is working
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return appErrors.Validation("database connection is nil", nil)
	}
	if err := db.PingContext(ctx); err != nil {
		return appErrors.Storage("failed to ping database", err)
	}
	return nil
}

// GetVersion retrieves the MySQL server version
func (s *Service) GetVersion(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", appErrors.Validation("database connection is nil", nil)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return "", appErrors.Storage("failed to get database version", err)
	}
	return version, nil
}

// Close closes db, logging failures
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}
