// Package storage uploads inbound media to an object store.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"linegem/internal/domain"
)

// APIError is a non-2xx answer from the storage API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storage API %d: %s", e.StatusCode, e.Body)
}

type SupabaseConfig struct {
	URL        string // project URL, e.g. https://xyz.supabase.co
	Key        string // service role or anon key
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Supabase implements domain.ObjectStore over the Supabase Storage REST API.
type Supabase struct {
	baseURL string
	key     string
	client  *http.Client
	logger  *slog.Logger
}

func NewSupabase(cfg SupabaseConfig) *Supabase {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supabase{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.Key,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

var _ domain.ObjectStore = (*Supabase)(nil)

// Upload stores data at bucket/path. With Upsert an existing object is replaced.
func (s *Supabase) Upload(ctx context.Context, bucket, path string, data []byte, opts domain.UploadOptions) (*domain.UploadResult, error) {
	if bucket == "" || path == "" {
		return nil, fmt.Errorf("upload: bucket and path are required")
	}
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, url.PathEscape(bucket), escapeObjectPath(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
	req.Header.Set("x-upsert", fmt.Sprintf("%t", opts.Upsert))
	req.Header.Set("cache-control", "max-age=3600")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var result domain.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if result.Key == "" {
		result.Key = bucket + "/" + path
	}
	result.Size = len(data)
	s.logger.Debug("object uploaded", "key", result.Key, "size", len(data), "upsert", opts.Upsert)
	return &result, nil
}

// PublicURL returns the public object URL; no request is made.
func (s *Supabase) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, url.PathEscape(bucket), escapeObjectPath(path))
}

// escapeObjectPath escapes each segment but keeps the slashes.
func escapeObjectPath(path string) string {
	segs := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
