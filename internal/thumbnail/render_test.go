package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	return cfg.Width, cfg.Height
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestTruncateLabel(t *testing.T) {
	assert.Equal(t, "short.txt", TruncateLabel("short.txt"))
	assert.Equal(t, "exactly-19-chars.ab", TruncateLabel("exactly-19-chars.ab"))
	assert.Equal(t, "a-much-longer-fi...", TruncateLabel("a-much-longer-file-name.txt"))
	assert.Equal(t, "ファイルファイルファイルファイル...", TruncateLabel("ファイルファイルファイルファイルファイル"))
}

func TestRenderPlaceholder(t *testing.T) {
	for _, name := range []string{"", "report.pdf", "an-extremely-long-document-name.docx"} {
		data, err := RenderPlaceholder(name)
		require.NoError(t, err)
		w, h := decodeSize(t, data)
		assert.Equal(t, Size, w)
		assert.Equal(t, Size, h)
	}
}

func TestRenderPlaceholderConcurrently(t *testing.T) {
	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := RenderPlaceholder(fmt.Sprintf("document-%d.pdf", i))
			if !assert.NoError(t, err) {
				return
			}
			cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
			if assert.NoError(t, err) {
				assert.Equal(t, Size, cfg.Width)
			}
		}(i)
	}
	wg.Wait()
}

func TestRenderMixedConcurrently(t *testing.T) {
	src := testPNG(t, 320, 200)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := RenderPlaceholder(fmt.Sprintf("notes-%d.txt", i))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := RenderImage(src)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestRenderImage(t *testing.T) {
	data, err := RenderImage(testPNG(t, 640, 360))
	require.NoError(t, err)
	w, h := decodeSize(t, data)
	assert.Equal(t, Size, w)
	assert.Equal(t, Size, h)
}

func TestRenderImageRejectsGarbage(t *testing.T) {
	_, err := RenderImage([]byte("not an image"))
	assert.Error(t, err)
}

func TestApplyOrientation(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 10))
	assert.Equal(t, image.Pt(10, 40), applyOrientation(img, 6).Bounds().Size())
	assert.Equal(t, image.Pt(40, 10), applyOrientation(img, 3).Bounds().Size())
	assert.Equal(t, image.Pt(40, 10), applyOrientation(img, 1).Bounds().Size())
}

type fakeShooter struct {
	calls int
	shot  []byte
	err   error
}

func (f *fakeShooter) Screenshot(context.Context, string) ([]byte, error) {
	f.calls++
	return f.shot, f.err
}

func TestURLRendererValidation(t *testing.T) {
	shooter := &fakeShooter{}
	r := NewURLRenderer(shooter)

	_, err := r.Render(context.Background(), "not a url")
	assert.Error(t, err)
	_, err = r.Render(context.Background(), "ftp://example.com/file")
	assert.Error(t, err)
	assert.Equal(t, 0, shooter.calls)

	assert.True(t, r.ValidURL("https://example.com/page?q=1"))
}

func TestURLRendererCrops(t *testing.T) {
	shooter := &fakeShooter{}
	r := NewURLRenderer(shooter)
	shooter.shot = testPNG(t, 1920, 1080)

	data, err := r.Render(context.Background(), "https://example.com")
	require.NoError(t, err)
	w, h := decodeSize(t, data)
	assert.Equal(t, Size, w)
	assert.Equal(t, Size, h)
	assert.Equal(t, 1, shooter.calls)
}
