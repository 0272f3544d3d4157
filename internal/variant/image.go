package variant

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/thumbnail"
)

// ImageName is the filetype tag of image items.
const ImageName = "image"

// Image serves like Base and thumbnails by saliency-cropping the picture.
type Image struct {
	*Base
}

// NewImage creates the image variant.
func NewImage(deps Deps) *Image {
	return &Image{Base: &Base{name: ImageName, deps: deps, render: renderImage}}
}

// Detect claims every upload sniffed as image/*.
func (v *Image) Detect(_ []byte, mime string) (string, bool) {
	if strings.HasPrefix(mime, "image/") {
		return ImageName, true
	}
	return "", false
}

func renderImage(ctx context.Context, item *content.Item) ([]byte, error) {
	body, err := readAll(ctx, item)
	if err != nil {
		return nil, err
	}
	png, err := thumbnail.RenderImage(body)
	if err != nil {
		logging.WithContext(ctx).Warn("image thumbnail failed, using placeholder",
			zap.String("item", item.ID()), zap.Error(err))
		return thumbnail.RenderPlaceholder(item.Name())
	}
	return png, nil
}
