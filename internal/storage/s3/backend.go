// Package s3 implements the "s3" storage backend on aws-sdk-go-v2.
package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/metrics"
	"github.com/femtoserve/femtoserve/internal/storage/object"
)

// BackendConfig is a JSON-serializable config for S3 backends.
type BackendConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	// Buckets are checked (and created if missing) at startup.
	Buckets []string `json:"buckets"`
}

// S3Backend implements storage.Backend using S3 or an S3-compatible server.
type S3Backend struct {
	client *s3.Client
}

// NewBackend creates a new S3 backend from a BackendConfig.
func NewBackend(ctx context.Context, cfg BackendConfig) (*S3Backend, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	backend := &S3Backend{client: client}

	for _, bucket := range cfg.Buckets {
		if err := backend.ensureBucket(ctx, bucket); err != nil {
			logging.Error("bucket check failed", zap.String("bucket", bucket), zap.Error(err))
		}
	}

	return backend, nil
}

// NewBackendFromJSON creates an S3Backend from raw JSON config.
func NewBackendFromJSON(ctx context.Context, raw json.RawMessage) (*S3Backend, error) {
	var cfg BackendConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse s3 config: %w", err)
	}
	return NewBackend(ctx, cfg)
}

func (b *S3Backend) ensureBucket(ctx context.Context, bucket string) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil
	}
	_, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	metrics.RecordStorageOperation(b.Type(), "create_bucket", time.Since(start), createErr == nil)
	if createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", bucket, createErr)
	}
	logging.Info("created S3 bucket", zap.String("bucket", bucket))
	return nil
}

// GetObject retrieves an object from S3 with range support.
func (b *S3Backend) GetObject(ctx context.Context, bucket, key string, rng *object.Range) (io.ReadCloser, error) {
	start := time.Now()

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if rng != nil {
		input.Range = aws.String(rng.HeaderValue())
	}

	result, err := b.client.GetObject(ctx, input)
	metrics.RecordStorageOperation(b.Type(), "get_object", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return result.Body, nil
}

// StatObject returns an object's size and etag.
func (b *S3Backend) StatObject(ctx context.Context, bucket, key string) (object.Info, error) {
	start := time.Now()

	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	metrics.RecordStorageOperation(b.Type(), "head_object", time.Since(start), err == nil)
	if err != nil {
		return object.Info{}, fmt.Errorf("head object %s: %w", key, err)
	}

	return object.Info{
		Size: aws.ToInt64(out.ContentLength),
		ETag: aws.ToString(out.ETag),
	}, nil
}

// PutObject uploads content to S3.
func (b *S3Backend) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	start := time.Now()

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	_, err := b.client.PutObject(ctx, input)
	metrics.RecordStorageOperation(b.Type(), "put_object", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	logging.Debug("S3 put object", zap.String("bucket", bucket), zap.String("key", key), zap.Int64("size", size))
	return nil
}

// Type returns "s3".
func (b *S3Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *S3Backend) Close() error { return nil }
