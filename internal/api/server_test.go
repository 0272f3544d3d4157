package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/events"
	"github.com/femtoserve/femtoserve/internal/identity"
	"github.com/femtoserve/femtoserve/internal/ingest"
	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/quota"
	"github.com/femtoserve/femtoserve/internal/repository/memory"
	"github.com/femtoserve/femtoserve/internal/shortlink"
	"github.com/femtoserve/femtoserve/internal/storage"
	"github.com/femtoserve/femtoserve/internal/storage/local"
	"github.com/femtoserve/femtoserve/internal/thumbnail"
	"github.com/femtoserve/femtoserve/internal/variant"
)

const testSecret = "test-secret"

func TestMain(m *testing.M) {
	logging.InitNop()
	m.Run()
}

type env struct {
	t           *testing.T
	handler     http.Handler
	lib         *content.Library
	links       *shortlink.MemoryStore
	verifier    *identity.Verifier
	broadcaster *events.Broadcaster
}

func newEnv(t *testing.T, mutate ...func(*Options)) *env {
	t.Helper()
	backend, err := local.New(local.Config{RootPath: t.TempDir(), CreateDirs: true})
	require.NoError(t, err)
	blobs := storage.NewRegistry(storage.KindLocal)
	blobs.Register(backend)

	lib := content.NewLibrary(memory.New(), blobs, "thumbs")
	thumbs, err := thumbnail.NewService(64)
	require.NoError(t, err)

	deps := variant.Deps{Thumbs: thumbs}
	variants := variant.NewRegistry(variant.NewBase(deps), variant.NewImage(deps), variant.NewURL(deps))
	links := shortlink.NewMemoryStore()
	verifier := identity.NewVerifier(testSecret)
	broadcaster := events.NewBroadcaster()

	opts := Options{
		Library:       lib,
		Variants:      variants,
		Links:         links,
		Ingest:        ingest.New(lib, variants, "items"),
		Verifier:      verifier,
		Broadcaster:   broadcaster,
		MaxUploadSize: 1 << 20,
	}
	for _, m := range mutate {
		m(&opts)
	}

	return &env{
		t:           t,
		handler:     NewServer(opts).Handler(),
		lib:         lib,
		links:       links,
		verifier:    verifier,
		broadcaster: broadcaster,
	}
}

func (e *env) token(owner string) string {
	e.t.Helper()
	tok, err := e.verifier.Issue(owner, owner, time.Hour)
	require.NoError(e.t, err)
	return tok
}

func (e *env) do(req *http.Request, owner string) *httptest.ResponseRecorder {
	e.t.Helper()
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(owner))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) get(target string, hdr ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	return e.do(req, "")
}

func uploadRequest(t *testing.T, name string, data []byte, expires string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if expires != "" {
		require.NoError(t, mw.WriteField("expires", expires))
	}
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *env) upload(owner, name string, data []byte) itemResponse {
	e.t.Helper()
	rec := e.do(uploadRequest(e.t, name, data, ""), owner)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp itemResponse
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (e *env) item(id string) *content.Item {
	e.t.Helper()
	item, err := e.lib.Load(context.Background(), id)
	require.NoError(e.t, err)
	return item
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	e = newEnv(t, func(o *Options) {
		o.Checks = map[string]HealthCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		}
	})
	rec = e.get("/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","redis":"connection refused"}`, rec.Body.String())
}

func TestUnknownShort(t *testing.T) {
	e := newEnv(t)
	for _, target := range []string{"/nope", "/nope.png", "/nope/thumb", "/nope/raw"} {
		rec := e.get(target)
		require.Equal(t, http.StatusNotFound, rec.Code, target)
		resp := decodeError(t, rec)
		assert.Equal(t, msgShortNotFound, resp.Error, target)
		assert.Equal(t, http.StatusNotFound, resp.Code, target)
	}
}

func TestShortToMissingItem(t *testing.T) {
	e := newEnv(t)
	e.links.Set("dangle", "no-such-item")
	rec := e.get("/dangle")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, msgShortNotFound, decodeError(t, rec).Error)
}

func TestUploadRequiresAuth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(uploadRequest(t, "a.txt", []byte("hi"), ""), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadAndServe(t *testing.T) {
	e := newEnv(t)
	data := []byte(strings.Repeat("femtoserve ", 100))
	resp := e.upload("owner-1", "notes.txt", data)

	assert.Equal(t, "/"+resp.Short+".txt", resp.URL)
	assert.Equal(t, "/"+resp.Short+"/thumb", resp.Thumb)
	assert.Equal(t, variant.BaseName, resp.Filetype)
	assert.Equal(t, "owner-1", e.item(resp.ID).Owner())

	// The extension in the path is ignored.
	for _, target := range []string{resp.URL, "/" + resp.Short, "/" + resp.Short + ".jpg"} {
		rec := e.get(target)
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, data, rec.Body.Bytes())
		assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "notes.txt")
	}
	assert.Equal(t, int64(3), e.item(resp.ID).Views())

	rec := e.get(resp.URL, "Range", "bytes=0-9")
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, data[:10], rec.Body.Bytes())
	assert.Equal(t, "bytes 0-9/1100", rec.Header().Get("Content-Range"))
	assert.Equal(t, int64(3), e.item(resp.ID).Views(), "ranged reads do not count as views")

	rec = e.get(resp.URL, "Range", "bytes=5000-")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */1100", rec.Header().Get("Content-Range"))
}

func TestUploadExpiry(t *testing.T) {
	e := newEnv(t)
	rec := e.do(uploadRequest(t, "a.txt", []byte("hi"), "-1h"), "owner-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(uploadRequest(t, "a.txt", []byte("hi"), "24h"), "owner-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp itemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	rc := e.item(resp.ID).Record()
	require.NotNil(t, rc.Metadata.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *rc.Metadata.ExpiresAt, time.Minute)
}

func TestUploadTooLarge(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.MaxUploadSize = 64 })
	rec := e.do(uploadRequest(t, "big.bin", bytes.Repeat([]byte{1}, 1024), ""), "owner-1")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadMissingFile(t *testing.T) {
	e := newEnv(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("expires", "1h"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := e.do(req, "owner-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "file field required", decodeError(t, rec).Error)
}

func TestImageThumb(t *testing.T) {
	e := newEnv(t)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 400, 300))))
	resp := e.upload("owner-1", "photo.png", buf.Bytes())
	assert.Equal(t, variant.ImageName, resp.Filetype)

	rec := e.get(resp.Thumb)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content.ThumbMime, rec.Header().Get("Content-Type"))
	cfg, err := png.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, thumbnail.Size, cfg.Width)
	assert.Equal(t, thumbnail.Size, cfg.Height)

	item := e.item(resp.ID)
	require.True(t, item.HasThumb())
	thumbID := item.ThumbReference()

	// Second request reuses the stored thumbnail.
	rec = e.get(resp.Thumb)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, thumbID, e.item(resp.ID).ThumbReference())
	assert.Equal(t, int64(0), e.item(resp.ID).Views(), "thumbnails do not count as views")
}

func TestRaw(t *testing.T) {
	e := newEnv(t)
	resp := e.upload("owner-1", "a.txt", []byte("hello"))
	rec := e.get("/" + resp.Short + "/raw")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Raw view hasn't been implemented for this type.", rec.Body.String())
}

func shorten(e *env, owner, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/shorten", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, owner)
}

func TestShorten(t *testing.T) {
	e := newEnv(t)

	rec := shorten(e, "", `{"url":"https://example.com"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = shorten(e, "owner-1", `{"url":"ftp://example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = shorten(e, "owner-1", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = shorten(e, "owner-1", `{"url":"https://example.com/landing?x=1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp itemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, variant.URLName, resp.Filetype)

	rec = e.get("/" + resp.Short)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/landing?x=1", rec.Header().Get("Location"))
	assert.Equal(t, int64(1), e.item(resp.ID).Views())

	rec = e.get("/" + resp.Short + "/raw")
	assert.Equal(t, "Thumb hasn't been implemented for URLs.", rec.Body.String())
}

func TestDelete(t *testing.T) {
	e := newEnv(t)
	resp := e.upload("owner-1", "a.txt", []byte("hello"))

	req := func() *http.Request { return httptest.NewRequest(http.MethodDelete, "/"+resp.Short, nil) }

	rec := e.do(req(), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(req(), "owner-2")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, e.item(resp.ID).Deleted())

	rec = e.do(req(), "owner-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"`+resp.ID+`","deleted":true}`, rec.Body.String())
	assert.True(t, e.item(resp.ID).Deleted())

	rec = e.get("/" + resp.Short)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "This item was removed.", rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.RateLimiter = quota.NewRateLimiter(1) })

	e.upload("owner-1", "a.txt", []byte("one"))
	rec := e.do(uploadRequest(t, "b.txt", []byte("two"), ""), "owner-1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.NotEqual(t, http.StatusTooManyRequests, e.get("/healthz").Code)
}

func TestEventsStreamOwnItemsOnly(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	rec := e.get("/events")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token("owner-1"))
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return e.broadcaster.Count() == 1 }, time.Second, 10*time.Millisecond)

	e.upload("owner-2", "other.txt", []byte("not yours"))
	mine := e.upload("owner-1", "mine.txt", []byte("yours"))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event: "+events.EventCreate, lines[0])

	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &ev))
	assert.Equal(t, mine.ID, ev.ItemID)
	assert.Equal(t, mine.Short, ev.Short)
	assert.Empty(t, ev.Owner)

	cancel()
	_, _ = io.Copy(io.Discard, resp.Body)
}

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodPut, "/healthz", nil), "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
