package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/events"
	"github.com/femtoserve/femtoserve/internal/identity"
	"github.com/femtoserve/femtoserve/internal/ingest"
	"github.com/femtoserve/femtoserve/internal/logging"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

type itemResponse struct {
	ID       string `json:"id"`
	Short    string `json:"short"`
	URL      string `json:"url"`
	Thumb    string `json:"thumb"`
	Filetype string `json:"filetype"`
	Mime     string `json:"mime"`
}

type shortenRequest struct {
	URL     string `json:"url"`
	Expires string `json:"expires,omitempty"`
}

// handleUpload stores a multipart "file" field as a new item. An optional
// "expires" field holds a Go duration (e.g. "24h").
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	caller := identity.FromContext(r.Context())
	if caller == nil {
		sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if s.maxUploadSize > 0 {
		if r.ContentLength > s.maxUploadSize {
			sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large: max %d bytes", s.maxUploadSize))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large: max %d bytes", s.maxUploadSize))
			return
		}
		sendError(w, http.StatusBadRequest, "multipart form required")
		return
	}
	defer r.MultipartForm.RemoveAll()

	expiresAt, err := s.parseExpiry(r.FormValue("expires"))
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		sendError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	item, err := s.ingest.Ingest(r.Context(), ingest.Upload{
		Name:      header.Filename,
		Owner:     caller.OwnerID,
		Body:      file,
		Size:      header.Size,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		logging.WithContext(r.Context()).Error("upload failed", zap.String("name", header.Filename), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	s.registerAndRespond(w, r, item)
}

// handleShorten records a URL as a redirecting item.
func (s *Server) handleShorten(w http.ResponseWriter, r *http.Request) {
	caller := identity.FromContext(r.Context())
	if caller == nil {
		sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req shortenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	expiresAt, err := s.parseExpiry(req.Expires)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := s.ingest.Shorten(r.Context(), req.URL, caller.OwnerID, expiresAt)
	if errors.Is(err, ingest.ErrInvalidURL) {
		sendError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	if err != nil {
		logging.WithContext(r.Context()).Error("shorten failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to shorten url")
		return
	}

	s.registerAndRespond(w, r, item)
}

func (s *Server) registerAndRespond(w http.ResponseWriter, r *http.Request, item *content.Item) {
	short, err := s.links.Register(r.Context(), item.ID())
	if err != nil {
		logging.WithContext(r.Context()).Error("register short failed", zap.String("item", item.ID()), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to register short")
		return
	}

	s.publishEvent(events.EventCreate, item, short)

	path := "/" + short
	if ext := item.Extension(); ext != "" {
		path += "." + ext
	}
	writeJSON(w, http.StatusCreated, itemResponse{
		ID:       item.ID(),
		Short:    short,
		URL:      path,
		Thumb:    "/" + short + "/thumb",
		Filetype: item.Filetype(),
		Mime:     item.Mime(),
	})
}

func (s *Server) parseExpiry(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("expires must be a positive duration, got %q", raw)
	}
	at := s.lib.Now().Add(d)
	return &at, nil
}
