package variant

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/metrics"
	"github.com/femtoserve/femtoserve/internal/rangeserve"
	"github.com/femtoserve/femtoserve/internal/thumbnail"
)

// BaseName is the filetype tag of the generic variant.
const BaseName = "base"

const (
	msgExpired     = "This item has expired."
	msgRemoved     = "This item was removed."
	msgVirus       = "This item was detected as a virus and removed.  We thought it was: %s"
	msgUnscanned   = `This item hasn't been scanned yet and could be a virus, are you sure you want to view it? <a href="%s">Click Here</a>`
	msgRawMissing  = "Raw view hasn't been implemented for this type."
	overrideParam  = "overrideVirusCheck"
	cacheImmutable = "public, max-age=604800, immutable"
)

// Deps are the collaborators shared by all variants.
type Deps struct {
	Thumbs *thumbnail.Service
	// WarnUnscanned shows an interstitial for items the scanner has not
	// reached yet. Set only when scanning is enabled and in warn mode.
	WarnUnscanned bool
	URLs          *thumbnail.URLRenderer
}

// Base is the generic variant. The other variants embed it and swap the
// parts that differ.
type Base struct {
	name   string
	deps   Deps
	render thumbnail.RenderFunc
}

// NewBase creates the generic variant, which thumbnails as a placeholder.
func NewBase(deps Deps) *Base {
	return &Base{name: BaseName, deps: deps, render: renderPlaceholder}
}

func (b *Base) Name() string { return b.name }

// Detect always classifies as generic.
func (b *Base) Detect([]byte, string) (string, bool) { return b.name, true }

func (b *Base) Match(filetype string) bool { return filetype == b.name }

// CheckDead writes the explanation and returns true when item must not be
// served. Expiry wins over deletion, deletion over a virus verdict.
func (b *Base) CheckDead(w http.ResponseWriter, r *http.Request, item *content.Item) bool {
	if item.Expired() {
		metrics.RecordGateHit("expired")
		writeText(w, msgExpired)
		return true
	}
	if item.Deleted() {
		metrics.RecordGateHit("deleted")
		writeText(w, msgRemoved)
		return true
	}
	virus := item.Virus()
	if virus.Detected {
		metrics.RecordGateHit("virus")
		writeText(w, fmt.Sprintf(msgVirus, virus.Description))
		return true
	}
	if b.deps.WarnUnscanned && !virus.Run && r.URL.Query().Get(overrideParam) != "true" {
		metrics.RecordGateHit("unscanned")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, msgUnscanned, html.EscapeString(overrideURL(r)))
		return true
	}
	return false
}

// Serve streams the item's blob, full or ranged.
func (b *Base) Serve(w http.ResponseWriter, r *http.Request, item *content.Item) error {
	if b.CheckDead(w, r, item) {
		return nil
	}
	blob, err := item.Blob()
	if err != nil {
		return err
	}

	setContentHeaders(w, item.Name(), item.Mime())
	metrics.RecordServe(b.name, "stream")
	return rangeserve.Serve(w, r, blob, func(ctx context.Context) error {
		metrics.RecordView()
		return item.IncrementViews(ctx)
	})
}

func (b *Base) Raw(w http.ResponseWriter, _ *http.Request, _ *content.Item) error {
	writeText(w, msgRawMissing)
	return nil
}

// Thumb serves the item's thumbnail, generating it on first request.
func (b *Base) Thumb(w http.ResponseWriter, r *http.Request, item *content.Item) error {
	if b.CheckDead(w, r, item) {
		return nil
	}
	thumb, err := b.GenerateThumb(r.Context(), item)
	if err != nil {
		return fmt.Errorf("thumbnail for %s: %w", item.ID(), err)
	}
	blob, err := thumb.Blob()
	if err != nil {
		return err
	}

	setContentHeaders(w, item.Name(), content.ThumbMime)
	metrics.RecordServe(b.name, "thumb")
	return rangeserve.Serve(w, r, blob, nil)
}

func (b *Base) GenerateThumb(ctx context.Context, item *content.Item) (*content.Item, error) {
	return b.deps.Thumbs.Ensure(ctx, b.name, item, b.render)
}

// Delete marks the thumbnail deleted, then the item.
func (b *Base) Delete(ctx context.Context, item *content.Item) error {
	if item.HasThumb() {
		thumb, err := item.Thumb(ctx)
		switch {
		case errors.Is(err, content.ErrNotFound):
			logging.WithContext(ctx).Warn("dangling thumbnail reference",
				zap.String("item", item.ID()), zap.String("thumb", item.ThumbReference()))
		case err != nil:
			return err
		default:
			if err := b.Delete(ctx, thumb); err != nil {
				return fmt.Errorf("delete thumbnail %s: %w", thumb.ID(), err)
			}
		}
	}
	if err := item.MarkDeleted(ctx); err != nil {
		return err
	}
	b.deps.Thumbs.Invalidate(item.ID())
	return nil
}

func renderPlaceholder(_ context.Context, item *content.Item) ([]byte, error) {
	return thumbnail.RenderPlaceholder(item.Name())
}

// readAll loads the item's full blob.
func readAll(ctx context.Context, item *content.Item) ([]byte, error) {
	rc, err := item.ItemStream(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func setContentHeaders(w http.ResponseWriter, name, mimeType string) {
	h := w.Header()
	disposition := mime.FormatMediaType("inline", map[string]string{"filename": name})
	if disposition == "" {
		disposition = "inline"
	}
	h.Set("Content-Disposition", disposition)
	if mimeType != "" {
		h.Set("Content-Type", mimeType)
	}
	h.Set("Cache-Control", cacheImmutable)
}

func writeText(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, msg)
}

func overrideURL(r *http.Request) string {
	u := *r.URL
	q := u.Query()
	q.Set(overrideParam, "true")
	u.RawQuery = q.Encode()
	return u.RequestURI()
}
