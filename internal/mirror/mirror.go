// Package mirror keeps an off-host copy of backup archives in an object store.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/logging"
)

// ErrObjectNotFound is returned by Fetch when the remote object is missing
var ErrObjectNotFound = errors.New("remote object not found")

// Object describes one archive in the remote store
type Object struct {
	Name    string    `json:"name" yaml:"name"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
}

// Mirror is a remote copy of the archive catalog. Names are bare archive
// filenames; implementations apply their own key prefix.
type Mirror interface {
	Name() string
	Put(ctx context.Context, name, localPath string) error
	Fetch(ctx context.Context, name, localPath string) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Object, error)
}

// New builds the Mirror selected by cfg, wrapped with retries
func New(ctx context.Context, cfg Config, retry *appErrors.RetryHandler, logger *logging.Logger) (Mirror, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		m   Mirror
		err error
	)
	switch cfg.Provider {
	case ProviderNone:
		return Noop{}, nil
	case ProviderS3:
		m, err = NewS3(cfg.S3, cfg.Prefix)
	case ProviderAzure:
		m, err = NewAzure(cfg.Azure, cfg.Prefix)
	case ProviderGCS:
		m, err = NewGCS(ctx, cfg.GCS, cfg.Prefix)
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(m, retry, logger), nil
}

// Noop is the mirror used when no provider is configured
type Noop struct{}

func (Noop) Name() string { return string(ProviderNone) }

func (Noop) Put(context.Context, string, string) error { return nil }

func (Noop) Delete(context.Context, string) error { return nil }

func (Noop) List(context.Context) ([]Object, error) { return nil, nil }

func (Noop) Fetch(_ context.Context, name, _ string) error {
	return fmt.Errorf("%w: %s (no mirror configured)", ErrObjectNotFound, name)
}

// IsNoop reports whether m does nothing
func IsNoop(m Mirror) bool {
	if m == nil {
		return true
	}
	_, ok := m.(Noop)
	return ok
}

type retrying struct {
	inner  Mirror
	retry  *appErrors.RetryHandler
	logger *logging.Logger
}

// WithRetry retries transient failures of m using retry
func WithRetry(m Mirror, retry *appErrors.RetryHandler, logger *logging.Logger) Mirror {
	if retry == nil {
		retry = appErrors.NewDefaultRetryHandler()
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &retrying{inner: m, retry: retry, logger: logger}
}

func (r *retrying) Name() string { return r.inner.Name() }

// Close releases the inner mirror's client, if it holds one
func (r *retrying) Close() error {
	if c, ok := r.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *retrying) Put(ctx context.Context, name, localPath string) error {
	return r.do(ctx, "put", name, func() error { return r.inner.Put(ctx, name, localPath) })
}

func (r *retrying) Fetch(ctx context.Context, name, localPath string) error {
	return r.do(ctx, "fetch", name, func() error { return r.inner.Fetch(ctx, name, localPath) })
}

func (r *retrying) Delete(ctx context.Context, name string) error {
	return r.do(ctx, "delete", name, func() error { return r.inner.Delete(ctx, name) })
}

func (r *retrying) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	err := r.do(ctx, "list", "", func() error {
		var err error
		objects, err = r.inner.List(ctx)
		return err
	})
	return objects, err
}

func (r *retrying) do(ctx context.Context, op, name string, fn func() error) error {
	attempt := 0
	err := r.retry.RetryWhen(ctx, func() error {
		attempt++
		err := fn()
		if err != nil && transient(err) {
			r.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"provider": r.inner.Name(),
				"op":       op,
				"object":   name,
				"attempt":  attempt,
				"error":    err.Error(),
			}).Warn("Mirror operation failed, retrying")
		}
		return err
	}, transient)
	if err == nil || errors.Is(err, ErrObjectNotFound) {
		return err
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Storage(fmt.Sprintf("%s %s on %s failed", op, name, r.inner.Name()), err)
}

// transient reports whether a remote error is worth retrying
func transient(err error) bool {
	if err == nil || errors.Is(err, ErrObjectNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if appErrors.IsRecoverable(err) {
		return true
	}
	if code, ok := statusCode(err); ok {
		return code == 429 || code >= 500
	}
	return false
}

func objectKey(prefix, name string) string {
	return path.Join(prefix, name)
}

func objectName(prefix, key string) (string, bool) {
	name := strings.TrimPrefix(key, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
