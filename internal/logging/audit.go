package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AuditEntry is one line of the audit trail
type AuditEntry struct {
	Operation string
	Resource  string
	Result    string
	Details   map[string]interface{}
}

// AuditLogger writes a JSON-lines audit trail of destructive and
// state-changing operations. A nil *AuditLogger is valid and records nothing.
type AuditLogger struct {
	logger *logrus.Logger
	closer io.Closer
	mu     sync.Mutex
}

// NewAuditLogger opens path for appending. An empty path disables auditing.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if path == "" {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	al := NewAuditLoggerWriter(file)
	al.closer = file
	return al, nil
}

// NewAuditLoggerWriter writes audit entries to w
func NewAuditLoggerWriter(w io.Writer) *AuditLogger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	logger.SetLevel(logrus.InfoLevel)
	return &AuditLogger{logger: logger}
}

// Record writes one audit entry. A correlation id is taken from ctx or generated.
func (a *AuditLogger) Record(ctx context.Context, entry AuditEntry) {
	if a == nil {
		return
	}

	id := CorrelationID(ctx)
	if id == "" {
		id = uuid.New().String()
	}

	fields := logrus.Fields{
		"correlation_id": id,
		"operation":      entry.Operation,
		"resource":       entry.Resource,
		"result":         entry.Result,
	}
	for k, v := range entry.Details {
		fields[k] = v
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.WithFields(fields).Info("audit")
}

// Close releases the underlying file
func (a *AuditLogger) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
