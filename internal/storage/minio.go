package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/learnhub/lmsapi/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient stores avatars in a MinIO (or any S3-compatible) bucket.
type MinioClient struct {
	client  *minio.Client
	bucket  string
	baseURL *url.URL
}

// NewMinioClient constructs a MinIO client from config.
func NewMinioClient(cfg config.MinioConfig) (*MinioClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("minio access key and secret key are required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	baseURL, err := minioBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	return &MinioClient{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: baseURL,
	}, nil
}

// minioBaseURL is where objects are served from: PublicURL when set,
// otherwise the API endpoint itself with path-style bucket addressing.
func minioBaseURL(cfg config.MinioConfig) (*url.URL, error) {
	if raw := strings.TrimSpace(cfg.PublicURL); raw != "" {
		u, err := url.Parse(strings.TrimRight(raw, "/"))
		if err != nil {
			return nil, err
		}
		return u, nil
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: cfg.Endpoint, Path: "/" + cfg.Bucket}, nil
}

// EnsureBucket ensures the configured bucket exists and allows anonymous
// object reads, which PublicURL links depend on.
func (m *MinioClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("minio bucket %q: %w", m.bucket, err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("minio create bucket %q: %w", m.bucket, err)
		}
	}
	if err := m.client.SetBucketPolicy(ctx, m.bucket, publicReadPolicy(m.bucket)); err != nil {
		return fmt.Errorf("minio bucket policy %q: %w", m.bucket, err)
	}
	return nil
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}

func (m *MinioClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: immutableCacheControl,
	})
	if err != nil {
		return fmt.Errorf("minio put %q: %w", key, err)
	}
	return nil
}

// Delete is idempotent; S3 semantics already report success for a missing key.
func (m *MinioClient) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio delete %q: %w", key, err)
	}
	return nil
}

// PublicURL returns the browser-facing address of key.
func (m *MinioClient) PublicURL(key string) string {
	return m.baseURL.JoinPath(key).String()
}

// Bucket returns the configured bucket name.
func (m *MinioClient) Bucket() string {
	return m.bucket
}

// Close is a no-op; the MinIO client holds no resources beyond idle HTTP
// connections.
func (m *MinioClient) Close() error {
	return nil
}
