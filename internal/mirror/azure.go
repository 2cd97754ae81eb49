package mirror

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	appErrors "cms-backup/internal/errors"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// Azure mirrors archives to an Azure Blob Storage container
type Azure struct {
	container azblob.ContainerURL
	account   string
	prefix    string
}

// NewAzure creates an Azure Blob Storage mirror
func NewAzure(cfg AzureConfig, prefix string) (*Azure, error) {
	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, appErrors.Config("invalid Azure credentials", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName))
	if err != nil {
		return nil, appErrors.Config("invalid Azure account name", err)
	}

	return &Azure{
		container: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(cfg.ContainerName),
		account:   cfg.AccountName,
		prefix:    prefix,
	}, nil
}

func (m *Azure) Name() string { return "azure://" + m.account }

func (m *Azure) blob(name string) azblob.BlockBlobURL {
	return m.container.NewBlockBlobURL(objectKey(m.prefix, name))
}

func (m *Azure) Put(ctx context.Context, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return appErrors.Storage("failed to open archive for upload", err)
	}
	defer f.Close()

	_, err = azblob.UploadFileToBlockBlob(ctx, f, m.blob(name), azblob.UploadToBlockBlobOptions{
		BlockSize:       4 * 1024 * 1024,
		Parallelism:     4,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/zip"},
	})
	return err
}

func (m *Azure) Fetch(ctx context.Context, name, localPath string) error {
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return appErrors.Storage("failed to create local file", err)
	}

	err = azblob.DownloadBlobToFile(ctx, m.blob(name).BlobURL, 0, azblob.CountToEnd, f, azblob.DownloadFromBlobOptions{
		RetryReaderOptionsPerBlock: azblob.RetryReaderOptions{MaxRetryRequests: 20},
	})
	closeErr := f.Close()
	if err != nil {
		if code, ok := statusCode(err); ok && code == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, name)
		}
		return err
	}
	return closeErr
}

func (m *Azure) Delete(ctx context.Context, name string) error {
	_, err := m.blob(name).Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	return err
}

func (m *Azure) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := m.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: m.prefix})
		if err != nil {
			return nil, err
		}
		marker = resp.NextMarker

		for _, item := range resp.Segment.BlobItems {
			name, ok := objectName(m.prefix, item.Name)
			if !ok {
				continue
			}
			obj := Object{Name: name, ModTime: item.Properties.LastModified}
			if item.Properties.ContentLength != nil {
				obj.Size = *item.Properties.ContentLength
			}
			objects = append(objects, obj)
		}
	}
	return objects, nil
}
