package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// Fetch failure reasons, used as metric labels.
const (
	reasonNoCandidate = "no_candidate"
	reasonFetch       = "fetch"
	reasonStatus      = "status"
	reasonTooSmall    = "too_small"
	reasonTooLarge    = "too_large"
	reasonUpload      = "upload"
	reasonUpdate      = "update"
	reasonClaim       = "claim"
)

// FetchError carries the reason a download was rejected.
type FetchError struct {
	Reason string
	Err    error
}

func (e *FetchError) Error() string { return e.Reason + ": " + e.Err.Error() }

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads remote media with a hard timeout and size bounds.
type Fetcher struct {
	client    *http.Client
	userAgent string
	minBytes  int64
	maxBytes  int64
}

// NewFetcher builds a fetcher. Zero values fall back to 15s, 100 bytes and 50 MiB.
func NewFetcher(timeout time.Duration, userAgent string, minBytes, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if minBytes <= 0 {
		minBytes = 100
	}
	if maxBytes <= 0 {
		maxBytes = 50 * 1024 * 1024
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		minBytes:  minBytes,
		maxBytes:  maxBytes,
	}
}

// Fetch returns the body and the Content-Type header of url.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", &FetchError{Reason: reasonFetch, Err: fmt.Errorf("build request: %w", err)}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", &FetchError{Reason: reasonFetch, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", &FetchError{Reason: reasonStatus, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", &FetchError{Reason: reasonFetch, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, "", &FetchError{Reason: reasonTooLarge, Err: fmt.Errorf("payload exceeds %d bytes", f.maxBytes)}
	}
	if int64(len(body)) < f.minBytes {
		return nil, "", &FetchError{Reason: reasonTooSmall, Err: fmt.Errorf("payload of %d bytes under %d", len(body), f.minBytes)}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Extension maps a Content-Type header to the stored file extension.
func Extension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case strings.Contains(mediaType, "png"):
		return "png"
	case strings.Contains(mediaType, "gif"):
		return "gif"
	case strings.Contains(mediaType, "webp"):
		return "webp"
	case strings.Contains(mediaType, "mp4"):
		return "mp4"
	default:
		return "jpg"
	}
}

// UploadContentType is the Content-Type stored with the object.
func UploadContentType(contentType string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	return "image/jpeg"
}

// ObjectKey is the deterministic durable key for a record.
func ObjectKey(tenantID, sourceType, recordID, ext string) string {
	return fmt.Sprintf("%s/%s/%s.%s", tenantID, sourceType, recordID, ext)
}

func failureReason(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return reasonFetch
}
