// Package ingest classifies uploads and turns them into stored items.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/logging"
)

// sniffLen is how much of an upload is inspected for classification.
const sniffLen = 3072

// ErrInvalidURL is returned when shortening something that is not an
// absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid url")

// Detector picks a filetype tag for an upload.
type Detector interface {
	Detect(sample []byte, mime string) string
}

// Upload is an incoming file.
type Upload struct {
	Name      string
	Owner     string
	Body      io.Reader
	Size      int64 // -1 if unknown
	ExpiresAt *time.Time
}

// Service writes uploads to blob storage and records them as items.
type Service struct {
	lib      *content.Library
	detector Detector
	bucket   string
	validate *validator.Validate
}

// New creates a Service storing blobs in bucket.
func New(lib *content.Library, detector Detector, bucket string) *Service {
	return &Service{lib: lib, detector: detector, bucket: bucket, validate: validator.New()}
}

// Ingest stores an upload and creates its item.
func (s *Service) Ingest(ctx context.Context, up Upload) (*content.Item, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	mimeType := sniff(head, up.Name)
	filetype := s.detector.Detect(head, mimeType)

	ref := s.lib.NewStorageRef(s.bucket, up.Owner)
	blob, err := s.lib.Blob(ref)
	if err != nil {
		return nil, err
	}
	body := io.MultiReader(bytes.NewReader(head), up.Body)
	if err := blob.Write(ctx, body, up.Size); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	ext := path.Ext(up.Name)
	item, err := s.lib.Create(ctx, &content.Record{
		Name: content.Name{
			Original:  up.Name,
			Filename:  strings.TrimSuffix(up.Name, ext),
			Extension: strings.TrimPrefix(ext, "."),
		},
		Metadata: content.Metadata{
			Mime:      mimeType,
			Encoding:  "7bit",
			Filetype:  filetype,
			ExpiresAt: up.ExpiresAt,
		},
		References: content.References{Storage: ref},
		Owner:      up.Owner,
	})
	if err != nil {
		return nil, err
	}

	logging.WithContext(ctx).Info("item ingested",
		zap.String("item", item.ID()),
		zap.String("filetype", filetype),
		zap.String("mime", mimeType),
		zap.String("key", ref.Filepath),
	)
	return item, nil
}

// Shorten records rawURL as a url item. No blob is written.
func (s *Service) Shorten(ctx context.Context, rawURL, owner string, expiresAt *time.Time) (*content.Item, error) {
	if err := s.validate.Var(rawURL, "required,http_url"); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return s.lib.Create(ctx, &content.Record{
		Name: content.Name{Original: rawURL, Filename: rawURL},
		Metadata: content.Metadata{
			Mime:      "text/uri-list",
			Filetype:  "url",
			ExpiresAt: expiresAt,
		},
		Owner: owner,
	})
}

// sniff detects the content type from the leading bytes. Plain octet
// streams fall back to the name's extension.
func sniff(head []byte, name string) string {
	detected := mimetype.Detect(head)
	if !detected.Is("application/octet-stream") {
		return baseType(detected.String())
	}
	if byExt := mime.TypeByExtension(path.Ext(name)); byExt != "" {
		return baseType(byExt)
	}
	return "application/octet-stream"
}

func baseType(v string) string {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return v
	}
	return mt
}
