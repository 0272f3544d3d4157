// Package minio implements the "minio" storage backend on minio-go.
package minio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/metrics"
	"github.com/femtoserve/femtoserve/internal/storage/object"
)

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string   `json:"endpoint"`
	AccessKey string   `json:"access_key"`
	SecretKey string   `json:"secret_key"`
	Region    string   `json:"region"`
	UseSSL    bool     `json:"use_ssl"`
	Buckets   []string `json:"buckets"`
}

// Backend implements storage.Backend using a MinIO server.
type Backend struct {
	cl *minio.Client
}

// New connects to MinIO and makes sure the configured buckets exist.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	b := &Backend{cl: cl}
	for _, bucket := range cfg.Buckets {
		if err := b.ensureBucket(ctx, bucket, cfg.Region); err != nil {
			logging.Error("bucket check failed", zap.String("bucket", bucket), zap.Error(err))
		}
	}
	return b, nil
}

// NewFromJSON creates a Backend from raw JSON config.
func NewFromJSON(ctx context.Context, raw json.RawMessage) (*Backend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse minio config: %w", err)
	}
	return New(ctx, cfg)
}

func (b *Backend) ensureBucket(ctx context.Context, bucket, region string) error {
	start := time.Now()
	exists, err := b.cl.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = b.cl.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
	metrics.RecordStorageOperation(b.Type(), "create_bucket", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("make bucket %s: %w", bucket, err)
	}
	logging.Info("created MinIO bucket", zap.String("bucket", bucket))
	return nil
}

// GetObject opens an object for reading. SetRange takes inclusive bounds.
func (b *Backend) GetObject(ctx context.Context, bucket, key string, rng *object.Range) (io.ReadCloser, error) {
	start := time.Now()

	opts := minio.GetObjectOptions{}
	if rng != nil {
		if err := opts.SetRange(rng.Start, rng.End); err != nil {
			return nil, fmt.Errorf("range for %s: %w", key, err)
		}
	}

	obj, err := b.cl.GetObject(ctx, bucket, key, opts)
	metrics.RecordStorageOperation(b.Type(), "get_object", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return obj, nil
}

// StatObject returns an object's size and etag.
func (b *Backend) StatObject(ctx context.Context, bucket, key string) (object.Info, error) {
	start := time.Now()
	info, err := b.cl.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	metrics.RecordStorageOperation(b.Type(), "stat_object", time.Since(start), err == nil)
	if err != nil {
		return object.Info{}, fmt.Errorf("stat object %s: %w", key, err)
	}
	return object.Info{Size: info.Size, ETag: info.ETag}, nil
}

// PutObject streams body into bucket/key. size may be -1.
func (b *Backend) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	start := time.Now()
	_, err := b.cl.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{})
	metrics.RecordStorageOperation(b.Type(), "put_object", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	logging.Debug("MinIO put object", zap.String("bucket", bucket), zap.String("key", key), zap.Int64("size", size))
	return nil
}

// Type returns "minio".
func (b *Backend) Type() string { return "minio" }

// Close is a no-op; minio-go holds no persistent connections of its own.
func (b *Backend) Close() error { return nil }
