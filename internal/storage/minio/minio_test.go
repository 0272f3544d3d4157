package minio

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/storage/object"
)

// Requires a running MinIO server; set TEST_MINIO_ENDPOINT to enable.
func TestMinioRoundTrip(t *testing.T) {
	endpoint := os.Getenv("TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_MINIO_ENDPOINT not set, skipping integration test")
	}
	logging.InitNop()

	ctx := context.Background()
	bucket := "femto-test"
	b, err := New(ctx, Config{
		Endpoint:  endpoint,
		AccessKey: envOr("TEST_MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey: envOr("TEST_MINIO_SECRET_KEY", "minioadmin"),
		Region:    "us-east-1",
		Buckets:   []string{bucket},
	})
	require.NoError(t, err)

	key := "test/" + uuid.NewString()
	data := []byte("0123456789abcdef")
	require.NoError(t, b.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data))))

	info, err := b.StatObject(ctx, bucket, key)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), info.Size)

	rc, err := b.GetObject(ctx, bucket, key, &object.Range{Start: 4, End: 7})
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "4567", string(got))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
