package rangeserve

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/storage"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	m.Run()
}

type memSource struct {
	data    []byte
	readCtx context.Context
	failAt  int64
}

func (m *memSource) Stat(context.Context) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{Size: int64(len(m.data)), ETag: "abc"}, nil
}

func (m *memSource) Read(ctx context.Context, rng *storage.ByteRange) (io.ReadCloser, error) {
	m.readCtx = ctx
	b := m.data
	if rng != nil {
		b = b[rng.Start : rng.End+1]
	}
	var r io.Reader = bytes.NewReader(b)
	if m.failAt > 0 {
		r = io.MultiReader(io.LimitReader(r, m.failAt), &errReader{})
	}
	return io.NopCloser(r), nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("backend reset") }

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func serve(t *testing.T, src Source, rangeHeader string, onComplete func(context.Context) error) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, Serve(rec, req, src, onComplete))
	return rec
}

func TestParseRange(t *testing.T) {
	const size = 100
	tests := []struct {
		header string
		want   *storage.ByteRange
		err    error
	}{
		{"", nil, nil},
		{"bytes=0-9", &storage.ByteRange{Start: 0, End: 9}, nil},
		{"bytes=90-", &storage.ByteRange{Start: 90, End: 99}, nil},
		{"bytes=-10", &storage.ByteRange{Start: 90, End: 99}, nil},
		{"bytes=-500", &storage.ByteRange{Start: 0, End: 99}, nil},
		{"bytes=50-1000", &storage.ByteRange{Start: 50, End: 99}, nil},
		{"bytes=0-0,5-9", &storage.ByteRange{Start: 0, End: 0}, nil},
		{"bytes=100-", nil, ErrUnsatisfiable},
		{"bytes=-0", nil, ErrUnsatisfiable},
		{"bytes=9-3", nil, nil},
		{"items=0-9", nil, nil},
		{"bytes=-", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := ParseRange(tt.header, size)
			assert.Equal(t, tt.err, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServeFull(t *testing.T) {
	data := payload(1000)
	views := 0
	rec := serve(t, &memSource{data: data}, "", func(context.Context) error {
		views++
		return nil
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, data, rec.Body.Bytes())
	assert.Equal(t, 1, views)
}

func TestServeRangeCorrectness(t *testing.T) {
	data := payload(1000)
	for _, span := range [][2]int64{{0, 0}, {0, 999}, {10, 19}, {500, 998}, {999, 999}} {
		a, b := span[0], span[1]
		views := 0
		rec := serve(t, &memSource{data: data}, "bytes="+strconv.FormatInt(a, 10)+"-"+strconv.FormatInt(b, 10),
			func(context.Context) error { views++; return nil })

		assert.Equal(t, http.StatusPartialContent, rec.Code)
		assert.Equal(t, "bytes "+strconv.FormatInt(a, 10)+"-"+strconv.FormatInt(b, 10)+"/1000", rec.Header().Get("Content-Range"))
		assert.Equal(t, strconv.FormatInt(b-a+1, 10), rec.Header().Get("Content-Length"))
		assert.Equal(t, data[a:b+1], rec.Body.Bytes())
		assert.Equal(t, 0, views, "ranged responses must not count views")
	}
}

func TestServeMalformedRangeSendsFullBodyWithoutView(t *testing.T) {
	data := payload(20)
	for _, header := range []string{"bytes=9-3", "items=0-9", "bytes=-"} {
		views := 0
		rec := serve(t, &memSource{data: data}, header, func(context.Context) error {
			views++
			return nil
		})
		assert.Equal(t, http.StatusOK, rec.Code, header)
		assert.Equal(t, data, rec.Body.Bytes(), header)
		assert.Empty(t, rec.Header().Get("Content-Range"), header)
		assert.Equal(t, 0, views, header)
	}
}

func TestServeUnsatisfiable(t *testing.T) {
	views := 0
	rec := serve(t, &memSource{data: payload(10)}, "bytes=10-20", func(context.Context) error {
		views++
		return nil
	})
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */10", rec.Header().Get("Content-Range"))
	assert.Equal(t, 0, views)
}

func TestServeAbortsOnBackendError(t *testing.T) {
	views := 0
	src := &memSource{data: payload(1000), failAt: 100}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		_ = Serve(rec, req, src, func(context.Context) error { views++; return nil })
	})
	assert.Equal(t, 0, views)
}

func TestServeReadUsesRequestContext(t *testing.T) {
	src := &memSource{data: payload(10)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/x", nil).WithContext(ctx)

	require.NoError(t, Serve(httptest.NewRecorder(), req, src, nil))
	require.NotNil(t, src.readCtx)

	cancel()
	assert.ErrorIs(t, src.readCtx.Err(), context.Canceled)
}
