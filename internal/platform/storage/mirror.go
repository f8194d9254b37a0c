package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultMirrorMaxBytes = 10 << 20
	defaultMirrorTimeout  = 30 * time.Second
)

var (
	errMirrorSourceRequired = errors.New("storage mirror: source url is required")
	errMirrorObjectRequired = errors.New("storage mirror: object path is required")
	errMirrorNotImage       = errors.New("storage mirror: source is not an image")
	errMirrorTooLarge       = errors.New("storage mirror: source exceeds size limit")
)

// Mirror downloads remote product images and persists them in the assets bucket.
type Mirror struct {
	client   *gcs.Client
	http     *http.Client
	bucket   string
	maxBytes int64
}

// MirrorOption customises a Mirror.
type MirrorOption func(*Mirror)

// WithMirrorHTTPClient overrides the HTTP client used to fetch source images.
func WithMirrorHTTPClient(client *http.Client) MirrorOption {
	return func(m *Mirror) {
		if client != nil {
			m.http = client
		}
	}
}

// WithMirrorMaxBytes caps the size of fetched images.
func WithMirrorMaxBytes(limit int64) MirrorOption {
	return func(m *Mirror) {
		if limit > 0 {
			m.maxBytes = limit
		}
	}
}

// NewMirror constructs a Mirror writing into the provided bucket.
func NewMirror(client *gcs.Client, bucket string, opts ...MirrorOption) (*Mirror, error) {
	if client == nil {
		return nil, errors.New("storage mirror: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage mirror: bucket is required")
	}
	mirror := &Mirror{
		client:   client,
		http:     &http.Client{Timeout: defaultMirrorTimeout},
		bucket:   bucket,
		maxBytes: defaultMirrorMaxBytes,
	}
	for _, opt := range opts {
		opt(mirror)
	}
	return mirror, nil
}

// MirrorImage fetches sourceURL and stores it at objectPath in the assets
// bucket, returning the stored object path.
func (m *Mirror) MirrorImage(ctx context.Context, sourceURL string, objectPath string) (string, error) {
	if m == nil || m.client == nil {
		return "", errors.New("storage mirror: not initialised")
	}
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return "", errMirrorSourceRequired
	}
	objectPath = strings.TrimSpace(objectPath)
	if objectPath == "" {
		return "", errMirrorObjectRequired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("storage mirror: build request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage mirror: fetch source: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("storage mirror: source returned status %d", resp.StatusCode)
	}
	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return "", errMirrorNotImage
	}
	if resp.ContentLength > m.maxBytes {
		return "", errMirrorTooLarge
	}

	writer := m.client.Bucket(m.bucket).Object(objectPath).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	writer.Metadata = map[string]string{"sourceUrl": sourceURL}

	limited := io.LimitReader(resp.Body, m.maxBytes+1)
	written, err := io.Copy(writer, limited)
	if err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage mirror: copy object: %w", err)
	}
	if written > m.maxBytes {
		_ = writer.Close()
		return "", errMirrorTooLarge
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage mirror: finalise object: %w", err)
	}
	return objectPath, nil
}

// SourceFileName derives a stable object file name from the source URL,
// falling back to a generic name when the URL carries no usable path.
func SourceFileName(sourceURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return "image"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	if idx := strings.IndexByte(name, ';'); idx > 0 {
		name = name[:idx]
	}
	if strings.ContainsAny(name, "\\") || strings.Contains(name, "..") {
		return "image"
	}
	return name
}
