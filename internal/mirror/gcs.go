package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	appErrors "cms-backup/internal/errors"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS mirrors archives to a Google Cloud Storage bucket
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a GCS mirror. Without a credentials file the application
// default credentials are used.
func NewGCS(ctx context.Context, cfg GCSConfig, prefix string) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, appErrors.Config("failed to create GCS client", err)
	}
	return &GCS{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (m *GCS) Name() string { return "gs://" + m.bucket }

func (m *GCS) object(name string) *storage.ObjectHandle {
	return m.client.Bucket(m.bucket).Object(objectKey(m.prefix, name))
}

func (m *GCS) Put(ctx context.Context, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return appErrors.Storage("failed to open archive for upload", err)
	}
	defer f.Close()

	w := m.object(name).NewWriter(ctx)
	w.ContentType = "application/zip"
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (m *GCS) Fetch(ctx context.Context, name, localPath string) error {
	r, err := m.object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, name)
		}
		return err
	}
	defer r.Close()

	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return appErrors.Storage("failed to create local file", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (m *GCS) Delete(ctx context.Context, name string) error {
	err := m.object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (m *GCS) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	it := m.client.Bucket(m.bucket).Objects(ctx, &storage.Query{Prefix: m.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		name, ok := objectName(m.prefix, attrs.Name)
		if !ok {
			continue
		}
		objects = append(objects, Object{Name: name, Size: attrs.Size, ModTime: attrs.Updated})
	}
	return objects, nil
}

// Close releases the underlying client
func (m *GCS) Close() error {
	return m.client.Close()
}
