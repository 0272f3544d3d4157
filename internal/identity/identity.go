// Package identity resolves the calling account from a bearer JWT.
// Token issuance belongs to the external account service; this package only
// verifies tokens and exposes the owner id used for ownership checks.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/metrics"
)

type contextKey string

const callerContextKey contextKey = "caller"

// Caller is the authenticated account behind a request.
type Caller struct {
	OwnerID  string
	Username string
}

// Claims holds JWT token claims.
type Claims struct {
	OwnerID  string `json:"owner_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens signed with a shared HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier. An empty secret disables authentication:
// every request is treated as anonymous.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Middleware attaches the Caller to the request context when a valid token
// is presented. Requests without a token, or with an invalid one, continue
// anonymously; handlers decide whether that is acceptable.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" || len(v.secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := v.Validate(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			logging.WithContext(r.Context()).Debug("ignoring invalid bearer token", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		metrics.RecordAuthAttempt(true)

		caller := &Caller{OwnerID: claims.OwnerID, Username: claims.Username}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// Validate parses and verifies a token string.
func (v *Verifier) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.OwnerID == "" {
		return nil, fmt.Errorf("token has no owner_id")
	}
	return claims, nil
}

// Issue signs a token for ownerID. Used by tooling and tests.
func (v *Verifier) Issue(ownerID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		OwnerID:  ownerID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "femtoserve",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// WithCaller returns a context carrying caller.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// FromContext returns the Caller, or nil for anonymous requests.
func FromContext(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerContextKey).(*Caller)
	return c
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
