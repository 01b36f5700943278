package gcs_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"taskboard/internal/backend/gcs"
)

type upload struct {
	path  string
	query string
	body  string
}

func newStorageServer(t *testing.T, status int) (*httptest.Server, *[]upload, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var uploads []upload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		uploads = append(uploads, upload{path: r.URL.Path, query: r.URL.RawQuery, body: string(data)})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 300 {
			io.WriteString(w, `{"error":{"code":412,"message":"conditionNotMet"}}`)
			return
		}
		io.WriteString(w, `{"name":"cat.png-1","bucket":"images"}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &uploads, &mu
}

func TestUpload(t *testing.T) {
	srv, uploads, mu := newStorageServer(t, http.StatusOK)
	store, err := gcs.NewWithHTTPClient(context.Background(), "images", srv.Client(), srv.URL+"/storage/v1/")
	if err != nil {
		t.Fatalf("NewWithHTTPClient failed: %v", err)
	}

	if err := store.Upload(context.Background(), "cat.png-1", strings.NewReader("PNGDATA"), "image/png"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*uploads) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*uploads))
	}
	got := (*uploads)[0]
	if !strings.HasSuffix(got.path, "/b/images/o") {
		t.Errorf("expected insert path ending in /b/images/o, got %s", got.path)
	}
	if !strings.Contains(got.query, "uploadType=") {
		t.Errorf("expected media upload, got query %q", got.query)
	}
	if !strings.Contains(got.query, "ifGenerationMatch=0") {
		t.Errorf("expected create-only precondition, got query %q", got.query)
	}
	if !strings.Contains(got.body, "PNGDATA") || !strings.Contains(got.body, "cat.png-1") {
		t.Errorf("expected object name and content in body, got %q", got.body)
	}
}

func TestUpload_AlreadyExists(t *testing.T) {
	srv, _, _ := newStorageServer(t, http.StatusPreconditionFailed)
	store, err := gcs.NewWithHTTPClient(context.Background(), "images", srv.Client(), srv.URL+"/storage/v1/")
	if err != nil {
		t.Fatalf("NewWithHTTPClient failed: %v", err)
	}

	err = store.Upload(context.Background(), "cat.png-1", strings.NewReader("x"), "image/png")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected already-exists error, got %v", err)
	}
}

func TestPublicURL(t *testing.T) {
	store, err := gcs.NewWithHTTPClient(context.Background(), "images", http.DefaultClient, "")
	if err != nil {
		t.Fatalf("NewWithHTTPClient failed: %v", err)
	}
	want := "https://storage.googleapis.com/images/my%20cat.png-1700000000000"
	if got := store.PublicURL("my cat.png-1700000000000"); got != want {
		t.Errorf("PublicURL = %q, want %q", got, want)
	}
}
