// Package storage wraps the object store. File bytes never pass through this
// service: clients upload and download directly against presigned URLs.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	// PutExpiry bounds the single-use write credential handed to a client.
	PutExpiry = 15 * time.Minute
	// GetExpiry is the read validity window for previews and downloads.
	GetExpiry = time.Hour
)

// ObjectStore is the storage surface the handlers depend on.
type ObjectStore interface {
	PresignPut(ctx context.Context, key, contentType string) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
	// PresignDownload forces a download disposition with the given filename.
	PresignDownload(ctx context.Context, key, filename string) (string, error)
	// PresignGetBatch issues read URLs for many keys; missing keys are
	// reported as errors per key, not as a whole-batch failure.
	PresignGetBatch(ctx context.Context, keys []string) (map[string]string, error)
	Remove(ctx context.Context, key string) error
}

type MinioStore struct {
	client *minio.Client
	bucket string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ConfigFromEnv reads MINIO_* variables.
func ConfigFromEnv() MinioConfig {
	useSSL, _ := strconv.ParseBool(os.Getenv("MINIO_USE_SSL"))
	return MinioConfig{
		Endpoint:  os.Getenv("MINIO_ENDPOINT"),
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:    os.Getenv("MINIO_BUCKET"),
		UseSSL:    useSSL,
	}
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func (s *MinioStore) PresignPut(ctx context.Context, key, contentType string) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, PutExpiry)
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	return u.String(), nil
}

func (s *MinioStore) PresignGet(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, GetExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}

func (s *MinioStore) PresignDownload(ctx context.Context, key, filename string) (string, error) {
	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, GetExpiry, params)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}

func (s *MinioStore) PresignGetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		u, err := s.client.PresignedGetObject(ctx, s.bucket, key, GetExpiry, nil)
		if err != nil {
			continue
		}
		out[key] = u.String()
	}
	return out, nil
}

func (s *MinioStore) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}
