package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/logging"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	logging.InitNop()

	s, err := New(dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewMigratesOnceAndReopens(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var version int
	var dirty bool
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations").Scan(&version, &dirty))
	assert.Equal(t, 1, version)
	assert.False(t, dirty)

	// A second store on an up-to-date schema sees no change.
	again, err := New(os.Getenv("TEST_DATABASE_URL"))
	require.NoError(t, err)
	defer again.Close()
	require.NoError(t, again.Ping(ctx))
}

func TestStoreRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	rec := &content.Record{
		ID:   uuid.NewString(),
		Name: content.Name{Original: "cat.png", Filename: "cat", Extension: "png"},
		Metadata: content.Metadata{
			Mime: "image/png", Filetype: "image", ExpiresAt: &exp,
		},
		References: content.References{Storage: content.StorageRef{
			ID: "s", Kind: "minio", Bucket: "femto-items", Folder: "o", Filename: "f", Filepath: "o/f",
		}},
		Owner:     "owner-1",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.References.Storage, got.References.Storage)
	require.NotNil(t, got.Metadata.ExpiresAt)
	assert.True(t, exp.Equal(*got.Metadata.ExpiresAt))

	require.NoError(t, s.IncrementViews(ctx, rec.ID))
	require.NoError(t, s.IncrementViews(ctx, rec.ID))
	require.NoError(t, s.LinkThumb(ctx, rec.ID, "thumb-1"))
	assert.ErrorIs(t, s.LinkThumb(ctx, rec.ID, "thumb-2"), content.ErrThumbAlreadySet)

	got.Deleted = true
	require.NoError(t, s.Save(ctx, got))

	got, err = s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Metadata.Views)
	assert.Equal(t, "thumb-1", got.References.Thumb)
	assert.True(t, got.Deleted)
}

func TestStoreNotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, content.ErrNotFound)
	assert.ErrorIs(t, s.IncrementViews(ctx, uuid.NewString()), content.ErrNotFound)
	assert.ErrorIs(t, s.LinkThumb(ctx, uuid.NewString(), "t"), content.ErrNotFound)
}
