package mirror

import (
	"context"
	"fmt"
	"os"

	appErrors "cms-backup/internal/errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3 mirrors archives to an Amazon S3 bucket
type S3 struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
	prefix     string
}

// NewS3 creates an S3 mirror. Without static keys the default AWS
// credential chain is used.
func NewS3(cfg S3Config, prefix string) (*S3, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, appErrors.Config("failed to create AWS session", err)
	}

	return &S3{
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		bucket:     cfg.Bucket,
		prefix:     prefix,
	}, nil
}

func (m *S3) Name() string { return "s3://" + m.bucket }

func (m *S3) Put(ctx context.Context, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return appErrors.Storage("failed to open archive for upload", err)
	}
	defer f.Close()

	_, err = m.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(objectKey(m.prefix, name)),
		Body:        f,
		ContentType: aws.String("application/zip"),
	})
	return err
}

func (m *S3) Fetch(ctx context.Context, name, localPath string) error {
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return appErrors.Storage("failed to create local file", err)
	}

	_, err = m.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey(m.prefix, name)),
	})
	closeErr := f.Close()
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, name)
		}
		return err
	}
	return closeErr
}

func (m *S3) Delete(ctx context.Context, name string) error {
	_, err := m.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey(m.prefix, name)),
	})
	return err
}

func (m *S3) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	err := m.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(m.prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			name, ok := objectName(m.prefix, aws.StringValue(obj.Key))
			if !ok {
				continue
			}
			objects = append(objects, Object{
				Name:    name,
				Size:    aws.Int64Value(obj.Size),
				ModTime: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	return objects, err
}
