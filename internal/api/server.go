// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/events"
	"github.com/femtoserve/femtoserve/internal/identity"
	"github.com/femtoserve/femtoserve/internal/ingest"
	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/metrics"
	"github.com/femtoserve/femtoserve/internal/quota"
	"github.com/femtoserve/femtoserve/internal/shortlink"
	"github.com/femtoserve/femtoserve/internal/variant"
)

const msgShortNotFound = "Short not found"

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options bundles the server dependencies.
type Options struct {
	Library     *content.Library
	Variants    *variant.Registry
	Links       shortlink.Store
	Ingest      *ingest.Service
	Verifier    *identity.Verifier
	Broadcaster *events.Broadcaster
	RateLimiter *quota.RateLimiter

	MaxUploadSize int64
	Checks        map[string]HealthCheck
}

// Server is the HTTP server.
type Server struct {
	lib         *content.Library
	variants    *variant.Registry
	links       shortlink.Store
	ingest      *ingest.Service
	verifier    *identity.Verifier
	broadcaster *events.Broadcaster
	limiter     *quota.RateLimiter

	maxUploadSize int64
	checks        map[string]HealthCheck
}

// NewServer creates a new server.
func NewServer(opts Options) *Server {
	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = quota.NewRateLimiter(0)
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier = identity.NewVerifier("")
	}
	return &Server{
		lib:           opts.Library,
		variants:      opts.Variants,
		links:         opts.Links,
		ingest:        opts.Ingest,
		verifier:      verifier,
		broadcaster:   opts.Broadcaster,
		limiter:       limiter,
		maxUploadSize: opts.MaxUploadSize,
		checks:        opts.Checks,
	}
}

// Handler returns the HTTP handler with logging, metrics and identity
// middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(logging.Middleware)
	r.Use(metrics.Middleware(routePattern))
	r.Use(s.verifier.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(quota.Middleware(s.limiter, sendError))
		r.Post("/upload", s.handleUpload)
		r.Post("/shorten", s.handleShorten)
	})

	r.Get("/{short}", s.handleServe)
	r.Get("/{short}/thumb", s.handleThumb)
	r.Get("/{short}/raw", s.handleRaw)
	r.Delete("/{short}", s.handleDelete)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		sendError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			logging.WithContext(ctx).Warn("health check failed", zap.String("check", name), zap.Error(err))
			status[name] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, status)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

// handleEvents streams lifecycle events for the caller's own items.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	caller := identity.FromContext(r.Context())
	if caller == nil {
		sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if s.broadcaster == nil {
		sendError(w, http.StatusNotImplemented, "events not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.broadcaster.Subscribe(caller.OwnerID)
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := events.WriteSSE(w, event); err != nil {
				logging.WithContext(ctx).Debug("event stream closed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) publishEvent(eventType string, item *content.Item, short string) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.Event{
		Type:     eventType,
		ItemID:   item.ID(),
		Short:    short,
		Filetype: item.Filetype(),
		Owner:    item.Owner(),
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// resolve maps the {short} path segment to a live item record. It writes
// the error response itself and returns nil when resolution fails.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) *content.Item {
	ctx := r.Context()
	token := shortlink.TokenFromPath(chi.URLParam(r, "short"))

	id, err := s.links.Resolve(ctx, token)
	if errors.Is(err, shortlink.ErrNotFound) {
		sendError(w, http.StatusNotFound, msgShortNotFound)
		return nil
	}
	if err != nil {
		logging.WithContext(ctx).Error("resolve short failed", zap.String("short", token), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to resolve short")
		return nil
	}

	item, err := s.lib.Load(ctx, id)
	if errors.Is(err, content.ErrNotFound) {
		logging.WithContext(ctx).Warn("short points at missing item", zap.String("short", token), zap.String("item", id))
		sendError(w, http.StatusNotFound, msgShortNotFound)
		return nil
	}
	if err != nil {
		logging.WithContext(ctx).Error("load item failed", zap.String("item", id), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to load item")
		return nil
	}
	return item
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func sendError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
