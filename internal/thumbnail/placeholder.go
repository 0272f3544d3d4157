package thumbnail

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Size is the edge length of every thumbnail.
const Size = 256

const (
	labelSize     = 25
	labelX        = 128
	labelY        = 220
	labelMaxWidth = 242
	labelMaxRunes = 19
	labelKeep     = 16
)

var (
	fontOnce  sync.Once
	labelFont *truetype.Font
	fontErr   error
)

// labelFace returns a fresh face for one render. Faces cache glyphs
// internally and must not be shared between goroutines; the parsed font can.
func labelFace() (font.Face, error) {
	fontOnce.Do(func() {
		labelFont, fontErr = truetype.Parse(goregular.TTF)
		if fontErr != nil {
			fontErr = fmt.Errorf("parse font: %w", fontErr)
		}
	})
	if fontErr != nil {
		return nil, fontErr
	}
	return truetype.NewFace(labelFont, &truetype.Options{Size: labelSize}), nil
}

// TruncateLabel shortens names longer than 19 characters to their first 16
// followed by "...".
func TruncateLabel(name string) string {
	r := []rune(name)
	if len(r) > labelMaxRunes {
		return string(r[:labelKeep]) + "..."
	}
	return name
}

// RenderPlaceholder draws a generic document icon with name beneath it.
func RenderPlaceholder(name string) ([]byte, error) {
	dc := gg.NewContext(Size, Size)
	drawDocument(dc)

	if name != "" {
		ff, err := labelFace()
		if err != nil {
			return nil, err
		}
		dc.SetFontFace(ff)
		dc.SetRGB(0, 0, 0)

		label := TruncateLabel(name)
		// Squeeze wide labels horizontally to fit, like canvas fillText's maxWidth.
		if w, _ := dc.MeasureString(label); w > labelMaxWidth {
			dc.Push()
			dc.ScaleAbout(labelMaxWidth/w, 1, labelX, labelY)
			dc.DrawStringAnchored(label, labelX, labelY, 0.5, 0)
			dc.Pop()
		} else {
			dc.DrawStringAnchored(label, labelX, labelY, 0.5, 0)
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

func drawDocument(dc *gg.Context) {
	const (
		left   = 78.0
		top    = 24.0
		right  = 178.0
		bottom = 172.0
		fold   = 28.0
	)

	dc.SetRGB(1, 1, 1)
	dc.Clear()

	// Page outline with a folded top-right corner.
	dc.MoveTo(left, top)
	dc.LineTo(right-fold, top)
	dc.LineTo(right, top+fold)
	dc.LineTo(right, bottom)
	dc.LineTo(left, bottom)
	dc.ClosePath()
	dc.SetRGB(0.93, 0.94, 0.96)
	dc.FillPreserve()
	dc.SetRGB(0.55, 0.58, 0.63)
	dc.SetLineWidth(3)
	dc.Stroke()

	dc.MoveTo(right-fold, top)
	dc.LineTo(right-fold, top+fold)
	dc.LineTo(right, top+fold)
	dc.Stroke()

	// Text lines.
	dc.SetLineWidth(4)
	for y := top + 52; y < bottom-16; y += 18 {
		dc.DrawLine(left+16, y, right-16, y)
	}
	dc.Stroke()
}
