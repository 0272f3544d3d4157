package variant

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/metrics"
	"github.com/femtoserve/femtoserve/internal/thumbnail"
)

// URLName is the root of the url filetype family ("url", "url-shortened", ...).
const URLName = "url"

const msgURLRaw = "Thumb hasn't been implemented for URLs."

// URL items store the target address as their name and serve as redirects.
type URL struct {
	*Base
}

// NewURL creates the url variant.
func NewURL(deps Deps) *URL {
	v := &URL{Base: &Base{name: URLName, deps: deps}}
	v.render = v.renderScreenshot
	return v
}

// Detect never claims uploads; url items are created by shortening.
func (v *URL) Detect([]byte, string) (string, bool) { return "", false }

// Match accepts every tag of the url family.
func (v *URL) Match(filetype string) bool { return strings.HasPrefix(filetype, URLName) }

// Serve redirects to the stored address.
func (v *URL) Serve(w http.ResponseWriter, r *http.Request, item *content.Item) error {
	if v.CheckDead(w, r, item) {
		return nil
	}
	http.Redirect(w, r, item.Name(), http.StatusFound)
	metrics.RecordServe(v.name, "redirect")

	metrics.RecordView()
	if err := item.IncrementViews(context.WithoutCancel(r.Context())); err != nil {
		logging.WithContext(r.Context()).Warn("increment views failed", zap.String("item", item.ID()), zap.Error(err))
	}
	return nil
}

func (v *URL) Raw(w http.ResponseWriter, _ *http.Request, _ *content.Item) error {
	writeText(w, msgURLRaw)
	return nil
}

func (v *URL) renderScreenshot(ctx context.Context, item *content.Item) ([]byte, error) {
	if v.deps.URLs != nil {
		png, err := v.deps.URLs.Render(ctx, item.Name())
		if err == nil {
			return png, nil
		}
		logging.WithContext(ctx).Warn("url capture failed, using placeholder",
			zap.String("item", item.ID()), zap.Error(err))
	}
	return thumbnail.RenderPlaceholder(item.Name())
}
