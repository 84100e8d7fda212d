package gallery

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/aperturelabs/livegateway/pkg/commons"
)

// S3Config pins the bucket and region for the BlobStore. Credentials are
// resolved the standard aws-sdk-go way (environment, shared config, or
// instance role) — the teacher's go.mod pins aws-sdk-go but never exercises
// it in the retrieved files; this gives it a concrete home.
type S3Config struct {
	Bucket string
	Region string
}

// s3BlobStore is C9's BlobStore implementation, grounded on the
// session.Must(session.NewSession(...))/s3manager.Uploader/Downloader shape
// sketched in LanternOps-breeze's S3Provider.
type s3BlobStore struct {
	bucket     string
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	client     *s3.S3
	logger     commons.Logger
}

func NewS3BlobStore(cfg S3Config, logger commons.Logger) (BlobStore, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("s3 bucket and region are required")
	}
	sess, err := session.NewSession(aws.NewConfig().WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("new aws session: %w", err)
	}
	return &s3BlobStore{
		bucket:     cfg.Bucket,
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		client:     s3.New(sess),
		logger:     logger,
	}, nil
}

func (b *s3BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (b *s3BlobStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	buf := aws.NewWriteAtBuffer(nil)
	_, err := b.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", key, err)
	}

	head, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	contentType := "application/octet-stream"
	if err == nil && head.ContentType != nil {
		contentType = *head.ContentType
	}
	return buf.Bytes(), contentType, nil
}

func (b *s3BlobStore) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
