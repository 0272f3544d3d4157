package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, ItemStoreMemory, cfg.ItemStore)
	assert.Equal(t, []string{"local"}, cfg.StorageKinds())
	assert.Equal(t, 30*time.Second, cfg.ThumbCaptureTimeout)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxUploadSize)
	assert.False(t, cfg.VirusWarnMode())
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ITEM_STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/femto")
	t.Setenv("STORAGE_BACKEND", "MinIO")
	t.Setenv("STORAGE_BACKENDS", "local,s3,minio")
	t.Setenv("THUMB_CAPTURE_TIMEOUT", "5s")
	t.Setenv("CLAMAV_ENABLED", "true")
	t.Setenv("CLAMAV_WARN", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ItemStorePostgres, cfg.ItemStore)
	assert.Equal(t, []string{"minio", "local", "s3"}, cfg.StorageKinds())
	assert.Equal(t, 5*time.Second, cfg.ThumbCaptureTimeout)
	assert.True(t, cfg.VirusWarnMode())
}

func TestLoadRejectsBadStore(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("ITEM_STORE", "cassandra")
	_, err := Load()
	assert.ErrorContains(t, err, "unknown ITEM_STORE")

	t.Setenv("ITEM_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err = Load()
	assert.ErrorContains(t, err, "DATABASE_URL is required")
}
