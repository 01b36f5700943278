package supabase

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Storage implements service.ImageStore on the backend's object storage.
type Storage struct {
	baseURL string
	bucket  string
	http    *http.Client
}

// NewStorage creates a store for bucket. httpClient must add the apikey
// and Authorization headers; the Client's HTTP client does.
func NewStorage(baseURL, bucket string, httpClient *http.Client) *Storage {
	return &Storage{baseURL: baseURL, bucket: bucket, http: httpClient}
}

// Upload stores body under path in the bucket. Existing objects are not
// overwritten.
func (s *Storage) Upload(ctx context.Context, path string, body io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, UploadTimeout)
	defer cancel()

	u := s.baseURL + storagePath + "object/" + url.PathEscape(s.bucket) + "/" + url.PathEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	resp, err := s.http.Do(req)
	if err != nil {
		return wrapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return wrapError(fmt.Errorf("upload %s: %w", path, decodeError(resp)))
	}
	return nil
}

// PublicURL returns the public URL of path in the bucket.
func (s *Storage) PublicURL(path string) string {
	return s.baseURL + storagePath + "object/public/" + url.PathEscape(s.bucket) + "/" + url.PathEscape(path)
}
