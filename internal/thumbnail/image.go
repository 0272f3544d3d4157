package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	// Decoders for formats accepted as image items.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"
	"github.com/muesli/smartcrop/nfnt"
	"github.com/rwcarlsen/goexif/exif"
)

// DecodeImage decodes data and applies its EXIF orientation, if any.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return applyOrientation(img, exifOrientation(data)), nil
}

// RenderImage decodes data and returns a Size×Size PNG cut from its most
// salient square region.
func RenderImage(data []byte) ([]byte, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return Cover(img)
}

// Cover picks the most salient square of img and scales it to Size×Size.
func Cover(img image.Image) ([]byte, error) {
	analyzer := smartcrop.NewAnalyzer(nfnt.NewDefaultResizer())
	crop, err := analyzer.FindBestCrop(img, Size, Size)
	if err != nil {
		return nil, fmt.Errorf("find crop: %w", err)
	}

	cropped := imaging.Crop(img, crop)
	thumb := imaging.Resize(cropped, Size, Size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func exifOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// applyOrientation transforms an image according to EXIF orientation value.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
