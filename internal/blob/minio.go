package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bull/docindex/internal/storage"
)

const minioBackend = "minio"

// MinIOConfig holds connection settings for an S3-compatible object store.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// MinIOStore keeps document bytes in a MinIO (or any S3-compatible) bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	region string
	logger *slog.Logger
}

// NewMinIOStore creates a client. It does not contact the server; call
// EnsureBucket to provision and verify connectivity.
func NewMinIOStore(cfg MinIOConfig, logger *slog.Logger) (*MinIOStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket not set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket, region: cfg.Region, logger: logger}, nil
}

// EnsureBucket creates the bucket if it is missing, retrying while the
// server comes up.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	operation := func() error {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			// Another process may have won the race.
			if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" {
				return nil
			}
			return backoff.Permanent(err)
		}
		s.logger.Info("created bucket", "bucket", s.bucket)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return storage.Wrap(minioBackend, "ensure bucket "+s.bucket, err)
	}
	return nil
}

// Put uploads data under key and returns the key as the blob location.
func (s *MinIOStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", storage.Wrap(minioBackend, "put "+s.bucket+"/"+key, err)
	}
	return key, nil
}

// Get downloads the object stored under key.
func (s *MinIOStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storage.Wrap(minioBackend, "get "+s.bucket+"/"+key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, storage.Wrap(minioBackend, "read "+s.bucket+"/"+key, err)
	}
	return data, nil
}

// Bucket returns the configured bucket name.
func (s *MinIOStore) Bucket() string {
	return s.bucket
}
