package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/events"
	"github.com/femtoserve/femtoserve/internal/identity"
	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/variant"
)

type operation func(v variant.Variant, w http.ResponseWriter, r *http.Request, item *content.Item) error

// dispatch resolves the short, picks the item's variant and runs op on it.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, name string, op operation) {
	item := s.resolve(w, r)
	if item == nil {
		return
	}
	v := s.variants.Resolve(item)
	r = r.WithContext(logging.WithFields(r.Context(),
		zap.String("item", item.ID()),
		zap.String("variant", v.Name()),
	))
	if err := op(v, w, r, item); err != nil {
		logging.WithContext(r.Context()).Error("request failed", zap.String("op", name), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to "+name+" item")
	}
}

func (s *Server) handleServe(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, "serve", variant.Variant.Serve)
}

func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, "thumbnail", variant.Variant.Thumb)
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, "read", variant.Variant.Raw)
}

// handleDelete soft-deletes an item and its thumbnail. Only the owner may
// delete.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	caller := identity.FromContext(r.Context())
	if caller == nil {
		sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	item := s.resolve(w, r)
	if item == nil {
		return
	}
	if !item.OwnedBy(caller) {
		sendError(w, http.StatusForbidden, "only the owner can delete")
		return
	}

	if err := s.variants.Resolve(item).Delete(r.Context(), item); err != nil {
		logging.WithContext(r.Context()).Error("delete failed", zap.String("item", item.ID()), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}

	logging.WithContext(r.Context()).Info("item deleted",
		zap.String("item", item.ID()),
		zap.String("owner", caller.OwnerID),
	)
	s.publishEvent(events.EventDelete, item, "")

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      item.ID(),
		"deleted": true,
	})
}
