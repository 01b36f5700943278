// Package gcs implements service.ImageStore on a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"taskboard/internal/config"
)

const (
	// UploadTimeout is the timeout for a single object upload.
	UploadTimeout = 60 * time.Second

	publicBaseURL = "https://storage.googleapis.com/"
)

// Store uploads task images to a bucket. Objects are expected to be
// publicly readable through bucket-level IAM.
type Store struct {
	svc    *storage.Service
	bucket string
}

// New creates a store for the configured bucket. Credentials come from
// TASKBOARD_GCS_CREDENTIALS when set, otherwise from the application
// default credentials.
func New(ctx context.Context, cfg *config.Config) (*Store, error) {
	var creds *google.Credentials
	if cfg.GCSCredentialsFile != "" {
		data, err := os.ReadFile(cfg.GCSCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read gcs credentials: %w", err)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, storage.DevstorageReadWriteScope)
		if err != nil {
			return nil, fmt.Errorf("invalid gcs credentials: %w", err)
		}
	} else {
		var err error
		creds, err = google.FindDefaultCredentials(ctx, storage.DevstorageReadWriteScope)
		if err != nil {
			return nil, fmt.Errorf("no gcs credentials: %w", err)
		}
	}

	svc, err := storage.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}
	return &Store{svc: svc, bucket: cfg.GCSBucket}, nil
}

// NewWithHTTPClient creates a store with a custom HTTP client and API
// endpoint (for testing).
func NewWithHTTPClient(ctx context.Context, bucket string, httpClient *http.Client, endpoint string) (*Store, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Store{svc: svc, bucket: bucket}, nil
}

// Upload stores body as the object named path.
func (s *Store) Upload(ctx context.Context, path string, body io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, UploadTimeout)
	defer cancel()

	obj := &storage.Object{Name: path, ContentType: contentType}
	call := s.svc.Objects.Insert(s.bucket, obj).IfGenerationMatch(0)
	if contentType != "" {
		call = call.Media(body, googleapi.ContentType(contentType))
	} else {
		call = call.Media(body)
	}
	if _, err := call.Context(ctx).Do(); err != nil {
		return wrapError(err)
	}
	return nil
}

// PublicURL returns the object's public URL.
func (s *Store) PublicURL(path string) string {
	return publicBaseURL + url.PathEscape(s.bucket) + "/" + url.PathEscape(path)
}

// wrapError wraps storage API errors with user-friendly messages.
func wrapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("upload timed out")
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusPreconditionFailed:
			return fmt.Errorf("object already exists: %w", err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("gcs credentials rejected: %w", err)
		}
	}
	return err
}
