// Package objectstore abstracts the bucket storage runners upload large
// artifacts to when they send results by reference instead of inline bytes.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/jmylchreest/vodarr/internal/config"
)

// ObjectStore is the bucket surface the finalizer needs: existence checks
// for by-reference success payloads, download to bring the artifact local,
// and upload for replay archival.
type ObjectStore interface {
	// Enabled reports whether a real bucket is configured. Callers skip
	// optional mirroring when it is false.
	Enabled() bool
	// Exists reports whether the given object key is present in the bucket.
	Exists(ctx context.Context, key string) (bool, error)
	// Download fetches an object into the given local file.
	Download(ctx context.Context, key string, dst *os.File) (int64, error)
	// Upload stores the reader's content under the given key.
	Upload(ctx context.Context, key string, body io.Reader) error
}

// New builds the configured driver. The "none" driver rejects by-reference
// payloads outright, for deployments without bucket storage.
func New(cfg config.ObjectStoreConfig) (ObjectStore, error) {
	switch cfg.Driver {
	case "s3":
		return newS3Store(cfg)
	case "", "none":
		return &disabledStore{}, nil
	default:
		return nil, fmt.Errorf("unsupported object store driver: %s", cfg.Driver)
	}
}

// s3Store implements ObjectStore against an S3-compatible bucket.
type s3Store struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
}

func newS3Store(cfg config.ObjectStoreConfig) (*s3Store, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("creating S3 session: %w", err)
	}

	return &s3Store{
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		bucket:     cfg.Bucket,
	}, nil
}

// Enabled always reports true for a configured bucket.
func (s *s3Store) Enabled() bool {
	return true
}

// Exists issues a HEAD for the key.
func (s *s3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			if aerr.Code() == "NotFound" || aerr.Code() == s3.ErrCodeNoSuchKey {
				return false, nil
			}
		}
		return false, fmt.Errorf("checking object %s: %w", key, err)
	}
	return true, nil
}

// Download fetches the object into dst.
func (s *s3Store) Download(ctx context.Context, key string, dst *os.File) (int64, error) {
	n, err := s.downloader.DownloadWithContext(ctx, dst, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("downloading object %s: %w", key, err)
	}
	return n, nil
}

// Upload stores the reader's content under the key.
func (s *s3Store) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("uploading object %s: %w", key, err)
	}
	return nil
}

// disabledStore fails every by-reference operation with a clear message.
type disabledStore struct{}

func (d *disabledStore) Enabled() bool {
	return false
}

func (d *disabledStore) Exists(ctx context.Context, key string) (bool, error) {
	return false, fmt.Errorf("object store is disabled, cannot check key %s", key)
}

func (d *disabledStore) Download(ctx context.Context, key string, dst *os.File) (int64, error) {
	return 0, fmt.Errorf("object store is disabled, cannot download key %s", key)
}

func (d *disabledStore) Upload(ctx context.Context, key string, body io.Reader) error {
	return fmt.Errorf("object store is disabled, cannot upload key %s", key)
}

var (
	_ ObjectStore = (*s3Store)(nil)
	_ ObjectStore = (*disabledStore)(nil)
)
