package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/femtoserve/femtoserve/internal/logging"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	m.Run()
}

func callerEcho(got **Caller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = FromContext(r.Context())
	})
}

func TestMiddlewareValidToken(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Issue("owner-1", "alice", time.Hour)
	require.NoError(t, err)

	var got *Caller
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	v.Middleware(callerEcho(&got)).ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, "alice", got.Username)
}

func TestMiddlewareAnonymous(t *testing.T) {
	v := NewVerifier("secret")

	var got *Caller
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	v.Middleware(callerEcho(&got)).ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, got)
}

func TestMiddlewareWrongSecret(t *testing.T) {
	token, err := NewVerifier("other").Issue("owner-1", "alice", time.Hour)
	require.NoError(t, err)

	var got *Caller
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	NewVerifier("secret").Middleware(callerEcho(&got)).ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, got)
}

func TestValidateExpired(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Issue("owner-1", "alice", -time.Minute)
	require.NoError(t, err)

	_, err = v.Validate(token)
	assert.Error(t, err)
}
