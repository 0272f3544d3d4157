package thumbnail

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-playground/validator/v10"
)

const (
	viewportWidth  = 1920
	viewportHeight = 1080
)

// Screenshotter captures a rendered web page as an encoded image.
type Screenshotter interface {
	Screenshot(ctx context.Context, url string) ([]byte, error)
}

// BrowserScreenshotter drives a headless Chrome through chromedp. Every
// capture launches its own browser process.
type BrowserScreenshotter struct {
	timeout  time.Duration
	execPath string
}

// NewBrowserScreenshotter creates a screenshotter bounded by timeout.
// execPath may be empty to let chromedp find Chrome.
func NewBrowserScreenshotter(timeout time.Duration, execPath string) *BrowserScreenshotter {
	return &BrowserScreenshotter{timeout: timeout, execPath: execPath}
}

// Screenshot navigates to url in a 1920×1080 viewport and captures it.
func (b *BrowserScreenshotter) Screenshot(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(viewportWidth, viewportHeight),
	)
	if b.execPath != "" {
		opts = append(opts, chromedp.ExecPath(b.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var buf []byte
	err := chromedp.Run(taskCtx,
		chromedp.EmulateViewport(viewportWidth, viewportHeight),
		chromedp.Navigate(url),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", url, err)
	}
	return buf, nil
}

// URLRenderer renders web page thumbnails.
type URLRenderer struct {
	shooter  Screenshotter
	validate *validator.Validate
}

// NewURLRenderer creates a URLRenderer using shooter for captures.
func NewURLRenderer(shooter Screenshotter) *URLRenderer {
	return &URLRenderer{shooter: shooter, validate: validator.New()}
}

// ValidURL reports whether raw is an absolute http(s) URL.
func (r *URLRenderer) ValidURL(raw string) bool {
	return r.validate.Var(raw, "required,http_url") == nil
}

// Render captures rawURL and crops the screenshot to a thumbnail.
// Invalid URLs return an error without touching the browser.
func (r *URLRenderer) Render(ctx context.Context, rawURL string) ([]byte, error) {
	if !r.ValidURL(rawURL) {
		return nil, fmt.Errorf("not a web url: %q", rawURL)
	}
	shot, err := r.shooter.Screenshot(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return RenderImage(shot)
}
