// Package rangeserve streams blobs over HTTP with single-range support.
package rangeserve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/metrics"
	"github.com/femtoserve/femtoserve/internal/storage"
)

var rangeRegex = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// ErrUnsatisfiable is returned by ParseRange when no byte of the requested
// range lies inside the object.
var ErrUnsatisfiable = errors.New("range not satisfiable")

// Source is a readable, stat-able blob.
type Source interface {
	Stat(ctx context.Context) (storage.ObjectInfo, error)
	Read(ctx context.Context, rng *storage.ByteRange) (io.ReadCloser, error)
}

// ParseRange resolves the first range of a Range header against an object
// of size bytes. A nil range with a nil error means the header is absent or
// malformed and the full body should be served.
func ParseRange(header string, size int64) (*storage.ByteRange, error) {
	if header == "" {
		return nil, nil
	}
	first, _, _ := strings.Cut(header, ",")
	matches := rangeRegex.FindStringSubmatch(strings.TrimSpace(first))
	if matches == nil {
		return nil, nil
	}
	startStr, endStr := matches[1], matches[2]

	switch {
	case startStr == "" && endStr == "":
		return nil, nil

	case startStr == "":
		// Suffix range: the last n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return nil, nil
		}
		if n == 0 || size == 0 {
			return nil, ErrUnsatisfiable
		}
		if n > size {
			n = size
		}
		return &storage.ByteRange{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return nil, nil
	}
	end := size - 1
	if endStr != "" {
		if end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
			return nil, nil
		}
		if end < start {
			return nil, nil
		}
		if end > size-1 {
			end = size - 1
		}
	}
	if start >= size {
		return nil, ErrUnsatisfiable
	}
	return &storage.ByteRange{Start: start, End: end}, nil
}

// Serve writes src to w. Without a Range header it sends the full body with
// status 200 and, once every byte was copied, calls onComplete. With a
// satisfiable Range it sends 206 and only that span. A malformed Range is
// ignored and the full body is sent. onComplete only runs when the request
// carried no Range header at all.
//
// An error is returned only if nothing has been written yet. Failures after
// the headers went out abort the connection via http.ErrAbortHandler so the
// client never mistakes a truncated body for a complete one.
func Serve(w http.ResponseWriter, r *http.Request, src Source, onComplete func(context.Context) error) error {
	ctx := r.Context()

	info, err := src.Stat(ctx)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	rangeHeader := r.Header.Get("Range")
	rng, err := ParseRange(rangeHeader, info.Size)
	if errors.Is(err, ErrUnsatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		metrics.RecordServe("stream", "unsatisfiable")
		return nil
	}

	body, err := src.Read(ctx, rng)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer body.Close()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	if info.ETag != "" {
		h.Set("ETag", strconv.Quote(strings.Trim(info.ETag, `"`)))
	}

	mode := "full"
	want := info.Size
	if rng != nil {
		mode = "range"
		want = rng.Length()
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, info.Size))
		h.Set("Content-Length", strconv.FormatInt(want, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		h.Set("Content-Length", strconv.FormatInt(want, 10))
		w.WriteHeader(http.StatusOK)
	}

	n, err := io.Copy(w, body)
	metrics.RecordBytesServed(mode, n)
	if err == nil && n != want {
		err = fmt.Errorf("short body: copied %d of %d bytes", n, want)
	}
	if err != nil {
		logging.WithContext(ctx).Warn("content transfer aborted",
			zap.String("path", r.URL.Path),
			zap.String("mode", mode),
			zap.Int64("bytes", n),
			zap.Error(err),
		)
		metrics.RecordServe("stream", "aborted")
		panic(http.ErrAbortHandler)
	}
	metrics.RecordServe("stream", mode)

	if rangeHeader == "" && onComplete != nil {
		if err := onComplete(context.WithoutCancel(ctx)); err != nil {
			logging.WithContext(ctx).Warn("post-stream hook failed", zap.Error(err))
		}
	}
	return nil
}
