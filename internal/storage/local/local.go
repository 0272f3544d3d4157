// Package local provides a local filesystem storage backend.
// Buckets map to top-level directories below the root path.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/femtoserve/femtoserve/internal/metrics"
	"github.com/femtoserve/femtoserve/internal/storage/object"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string `json:"root_path"`
	CreateDirs bool   `json:"create_dirs"`
}

// LocalBackend implements storage.Backend using the local filesystem.
type LocalBackend struct {
	rootPath   string
	createDirs bool
}

// New creates a new local filesystem backend.
func New(cfg Config) (*LocalBackend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &LocalBackend{
		rootPath:   cfg.RootPath,
		createDirs: cfg.CreateDirs,
	}, nil
}

// NewFromJSON creates a LocalBackend from raw JSON config.
func NewFromJSON(raw json.RawMessage) (*LocalBackend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse local config: %w", err)
	}
	return New(cfg)
}

func (b *LocalBackend) fullPath(bucket, key string) (string, error) {
	p := filepath.Join(b.rootPath, filepath.FromSlash(bucket), filepath.FromSlash(key))
	if !strings.HasPrefix(p, filepath.Clean(b.rootPath)+string(filepath.Separator)) {
		return "", fmt.Errorf("key %s/%s escapes storage root", bucket, key)
	}
	return p, nil
}

// GetObject reads a file from the local filesystem with range support.
func (b *LocalBackend) GetObject(ctx context.Context, bucket, key string, rng *object.Range) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := b.getObject(ctx, bucket, key, rng)
	metrics.RecordStorageOperation(b.Type(), "get_object", time.Since(start), err == nil)
	return rc, err
}

func (b *LocalBackend) getObject(ctx context.Context, bucket, key string, rng *object.Range) (io.ReadCloser, error) {
	path, err := b.fullPath(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}

	if rng == nil {
		return &ctxReadCloser{ctx: ctx, Reader: f, Closer: f}, nil
	}

	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek %s: %w", key, err)
	}
	return &ctxReadCloser{
		ctx:    ctx,
		Reader: io.LimitReader(f, rng.Length()),
		Closer: f,
	}, nil
}

// StatObject returns the file size and a size/mtime derived etag.
func (b *LocalBackend) StatObject(_ context.Context, bucket, key string) (object.Info, error) {
	start := time.Now()
	path, err := b.fullPath(bucket, key)
	if err != nil {
		return object.Info{}, err
	}
	info, err := os.Stat(path)
	metrics.RecordStorageOperation(b.Type(), "stat_object", time.Since(start), err == nil)
	if err != nil {
		return object.Info{}, fmt.Errorf("stat %s: %w", key, err)
	}
	return object.Info{
		Size: info.Size(),
		ETag: fmt.Sprintf("%x-%x", info.ModTime().UnixNano(), info.Size()),
	}, nil
}

// PutObject writes content to the local filesystem atomically.
func (b *LocalBackend) PutObject(_ context.Context, bucket, key string, body io.Reader, _ int64) error {
	start := time.Now()
	err := b.putObject(bucket, key, body)
	metrics.RecordStorageOperation(b.Type(), "put_object", time.Since(start), err == nil)
	return err
}

func (b *LocalBackend) putObject(bucket, key string, body io.Reader) error {
	path, err := b.fullPath(bucket, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)

	if b.createDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dirs for %s: %w", key, err)
		}
	}

	// Write to temp file then rename for atomicity
	tmp, err := os.CreateTemp(dir, ".femtoserve-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}

	return nil
}

// Type returns "local".
func (b *LocalBackend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *LocalBackend) Close() error { return nil }

// ctxReadCloser stops reading once its context is cancelled, matching the
// abort-on-disconnect behaviour of the network backends.
type ctxReadCloser struct {
	ctx context.Context
	io.Reader
	io.Closer
}

func (r *ctxReadCloser) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.Reader.Read(p)
}
