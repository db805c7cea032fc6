package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"linegem/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var jpegOpts = domain.UploadOptions{ContentType: "image/jpeg", Upsert: true}

// --- Supabase ---

func TestSupabase_UploadSendsUpsertAndContentType(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/storage/v1/object/uploads/line_images/m1.jpg" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-upsert") != "true" {
			t.Errorf("expected x-upsert true, got %q", r.Header.Get("x-upsert"))
		}
		if r.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("apikey") != "service-key" || r.Header.Get("Authorization") != "Bearer service-key" {
			t.Errorf("missing credentials")
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"Key":"uploads/line_images/m1.jpg","Id":"b1"}`))
	}))
	defer srv.Close()

	s := NewSupabase(SupabaseConfig{URL: srv.URL + "/", Key: "service-key", HTTPClient: srv.Client(), Logger: testLogger()})
	res, err := s.Upload(context.Background(), "uploads", "line_images/m1.jpg", []byte("jpeg-bytes"), jpegOpts)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Key != "uploads/line_images/m1.jpg" {
		t.Fatalf("unexpected key %q", res.Key)
	}
	if string(gotBody) != "jpeg-bytes" {
		t.Fatalf("unexpected body %q", gotBody)
	}
}

func TestSupabase_UploadErrorIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"statusCode":"404","error":"Bucket not found"}`))
	}))
	defer srv.Close()

	s := NewSupabase(SupabaseConfig{URL: srv.URL, HTTPClient: srv.Client(), Logger: testLogger()})
	_, err := s.Upload(context.Background(), "missing", "a.jpg", []byte("x"), jpegOpts)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
}

func TestSupabase_PublicURLIsDeterministic(t *testing.T) {
	s := NewSupabase(SupabaseConfig{URL: "https://proj.supabase.co/"})
	want := "https://proj.supabase.co/storage/v1/object/public/uploads/line_images/m1.jpg"
	if got := s.PublicURL("uploads", "line_images/m1.jpg"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if s.PublicURL("uploads", "line_images/m1.jpg") != s.PublicURL("uploads", "line_images/m1.jpg") {
		t.Fatal("public url should be deterministic")
	}
}

// --- Local ---

func TestLocal_UpsertOverwritesSameKey(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(LocalConfig{Dir: dir, PublicBase: "http://cdn.local/", Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := l.Upload(ctx, "uploads", "line_images/m1.jpg", []byte("first"), jpegOpts); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	res, err := l.Upload(ctx, "uploads", "line_images/m1.jpg", []byte("second"), jpegOpts)
	if err != nil {
		t.Fatalf("second upload should overwrite: %v", err)
	}
	if res.Key != "uploads/line_images/m1.jpg" {
		t.Fatalf("unexpected key %q", res.Key)
	}

	data, err := os.ReadFile(filepath.Join(dir, "uploads", "line_images", "m1.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Fatalf("expected overwritten content, got %q", data)
	}
	if got := l.PublicURL("uploads", "line_images/m1.jpg"); got != "http://cdn.local/uploads/line_images/m1.jpg" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestLocal_NoUpsertRejectsExisting(t *testing.T) {
	l, _ := NewLocal(LocalConfig{Dir: t.TempDir(), Logger: testLogger()})
	ctx := context.Background()
	opts := domain.UploadOptions{ContentType: "image/jpeg"}

	if _, err := l.Upload(ctx, "uploads", "a.jpg", []byte("1"), opts); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if _, err := l.Upload(ctx, "uploads", "a.jpg", []byte("2"), opts); !errors.Is(err, ErrObjectExists) {
		t.Fatalf("expected ErrObjectExists, got %v", err)
	}
}

func TestLocal_RejectsEscapingPath(t *testing.T) {
	l, _ := NewLocal(LocalConfig{Dir: t.TempDir(), Logger: testLogger()})
	if _, err := l.Upload(context.Background(), "uploads", "../../etc/passwd", []byte("x"), jpegOpts); err == nil {
		t.Fatal("expected error for path traversal")
	}
}

func TestLocal_RejectsOversized(t *testing.T) {
	l, _ := NewLocal(LocalConfig{Dir: t.TempDir(), MaxSizeBytes: 4, Logger: testLogger()})
	if _, err := l.Upload(context.Background(), "uploads", "big.jpg", []byte("12345"), jpegOpts); err == nil {
		t.Fatal("expected error for oversized upload")
	}
}
