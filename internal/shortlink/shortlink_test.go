package shortlink

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/femtoserve/femtoserve/internal/logging"
)

func TestTokenFromPath(t *testing.T) {
	assert.Equal(t, "abc123", TokenFromPath("abc123"))
	assert.Equal(t, "abc123", TokenFromPath("abc123.png"))
	assert.Equal(t, "abc123", TokenFromPath("abc123.tar.gz"))
	assert.Equal(t, "", TokenFromPath(".hidden"))
}

func TestNewToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := newToken()
		require.NoError(t, err)
		assert.Len(t, tok, tokenLength)
		seen[tok] = true
	}
	assert.Greater(t, len(seen), 90)
}

func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	token, err := s.Register(ctx, "item-1")
	require.NoError(t, err)

	id, err := s.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "item-1", id)

	_, err = s.Resolve(ctx, "missing-token")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

// Requires a running Redis; set TEST_REDIS_ADDR to enable.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping integration test")
	}
	logging.InitNop()

	s, err := NewRedisStore(context.Background(), addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}
