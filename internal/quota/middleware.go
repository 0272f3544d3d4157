package quota

import (
	"net"
	"net/http"
	"strconv"

	"github.com/femtoserve/femtoserve/internal/identity"
	"github.com/femtoserve/femtoserve/internal/metrics"
)

// Rejector writes the 429 response. It lets the caller keep its own error
// body format.
type Rejector func(w http.ResponseWriter, code int, message string)

// Middleware enforces the limiter per authenticated owner, or per client
// address for anonymous requests.
func Middleware(limiter *RateLimiter, reject Rejector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFor(r)
			if !limiter.Allow(key) {
				metrics.RecordRateLimitHit()
				w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter(key)))
				reject(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func keyFor(r *http.Request) string {
	if caller := identity.FromContext(r.Context()); caller != nil {
		return "owner:" + caller.OwnerID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
