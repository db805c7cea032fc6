package memory

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

type SupabaseStoreConfig struct {
	URL        string
	Key        string
	Table      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// SupabaseStore inserts records through the Supabase PostgREST endpoint.
type SupabaseStore struct {
	endpoint string
	key      string
	client   *http.Client
	logger   *slog.Logger
}

var _ domain.RecordStore = (*SupabaseStore)(nil)

func NewSupabaseStore(cfg SupabaseStoreConfig) *SupabaseStore {
	if cfg.Table == "" {
		cfg.Table = "messages"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SupabaseStore{
		endpoint: strings.TrimRight(cfg.URL, "/") + "/rest/v1/" + url.PathEscape(cfg.Table),
		key:      cfg.Key,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
	}
}

// Insert posts one row. The table owns ids and timestamps.
func (s *SupabaseStore) Insert(ctx context.Context, rec domain.ConversationRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("insert record: postgrest %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func (s *SupabaseStore) Close() error { return nil }

// Nop discards records; used when records.backend is "none".
type Nop struct{}

func (Nop) Insert(context.Context, domain.ConversationRecord) error { return nil }
func (Nop) Close() error                                            { return nil }
