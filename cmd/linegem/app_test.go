package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"linegem/internal/config"
	"linegem/internal/line"
	"linegem/internal/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeUpstream serves the LINE messaging, LINE content and Gemini endpoints.
type fakeUpstream struct {
	mu      sync.Mutex
	replies []map[string]any
	prompts []map[string]any
	image   []byte
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/v2/bot/message/reply":
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.replies = append(f.replies, body)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"sentMessages":[{"id":"1","quoteToken":"q"}]}`)
	case strings.HasPrefix(r.URL.Path, "/v2/bot/message/") && strings.HasSuffix(r.URL.Path, "/content"):
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(f.image)
	case strings.HasSuffix(r.URL.Path, ":generateContent"):
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.prompts = append(f.prompts, body)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":" สุนัข \n"}]},"finishReason":"STOP"}]}`)
	default:
		http.NotFound(w, r)
	}
}

func testConfig(t *testing.T, upstream string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.LINE.ChannelSecret = "secret"
	cfg.LINE.ChannelAccessToken = "token"
	cfg.LINE.APIBase = upstream
	cfg.LINE.DataAPIBase = upstream
	cfg.AI.APIKey = "key"
	cfg.AI.APIBase = upstream
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalDir = filepath.Join(dir, "objects")
	cfg.Records.Backend = "sqlite"
	cfg.Records.DBPath = filepath.Join(dir, "records.db")
	cfg.Dedupe.Backend = "memory"
	cfg.Metrics.Enabled = true
	if err := config.Validate(cfg); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestApp_EndToEnd(t *testing.T) {
	up := &fakeUpstream{image: []byte{0xFF, 0xD8, 0xFF, 0xE0, 42}}
	upstream := httptest.NewServer(up)
	defer upstream.Close()

	cfg := testConfig(t, upstream.URL)
	a, err := buildApp(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	body := []byte(`{"destination":"U0","events":[
	 {"type":"message","replyToken":"t1","webhookEventId":"e1","source":{"type":"user","userId":"u1"},"message":{"id":"m1","type":"text","text":"hello"}},
	 {"type":"message","replyToken":"t2","webhookEventId":"e2","source":{"type":"user","userId":"u1"},"message":{"id":"m2","type":"image"}},
	 {"type":"message","replyToken":"t3","source":{"type":"user","userId":"u1"},"message":{"id":"m3","type":"sticker"}}]}`)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
		req.Header.Set(line.SignatureHeader, base64.StdEncoding.EncodeToString(line.Sign("secret", body)))
		rr := httptest.NewRecorder()
		a.server.Handler().ServeHTTP(rr, req)
		return rr
	}

	rr := send()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var results []json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 || string(results[2]) != "null" {
		t.Fatalf("unexpected results: %s", rr.Body.String())
	}

	if len(up.replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(up.replies))
	}
	texts := map[string]string{}
	for _, r := range up.replies {
		msgs := r["messages"].([]any)
		texts[r["replyToken"].(string)] = msgs[0].(map[string]any)["text"].(string)
	}
	if texts["t1"] != "สุนัข" || texts["t2"] != "สัตว์ในภาพคือ: สุนัข" {
		t.Fatalf("unexpected replies: %v", texts)
	}

	stored, err := os.ReadFile(filepath.Join(cfg.Storage.LocalDir, "uploads", "line_images", "m2.jpg"))
	if err != nil || !bytes.Equal(stored, up.image) {
		t.Fatalf("image not stored: %v", err)
	}

	// Redelivery of the same batch is suppressed by the deduper.
	if rr := send(); rr.Code != http.StatusOK {
		t.Fatalf("redelivery: expected 200, got %d", rr.Code)
	}
	if len(up.replies) != 2 {
		t.Fatalf("redelivered events must not be answered again, got %d replies", len(up.replies))
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	store, err := memory.NewSQLiteStore(cfg.Records.DBPath, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	recs, err := store.Recent(context.Background(), "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Content != "hello" || recs[0].ReplyContent != "สุนัข" || recs[0].MessageID != "m1" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestBuildApp_UnknownProvider(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.AI.Provider = "nope"
	if _, err := buildApp(context.Background(), cfg, testLogger()); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewDeduper_None(t *testing.T) {
	cfg := config.Defaults()
	d, closer, err := newDeduper(context.Background(), cfg)
	if err != nil || d != nil || closer != nil {
		t.Fatalf("backend none should yield no deduper: %v %v", d, err)
	}
}

func TestLoadConfig_FallsBackToEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("PORT", "8088")
	configPath = ""
	logger = testLogger()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8088 || cfg.Supabase.URL != "https://proj.supabase.co" {
		t.Fatalf("env not applied: %+v", cfg.Server)
	}
}

func TestLoadConfig_ExplicitMissingFileFails(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "missing.json")
	defer func() { configPath = "" }()
	if _, err := loadConfig(); err == nil {
		t.Fatal("an explicit --config that does not exist must fail")
	}
}

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()
	if !newLogger("debug").Enabled(ctx, slog.LevelDebug) {
		t.Error("debug should be enabled")
	}
	if newLogger("warn").Enabled(ctx, slog.LevelInfo) {
		t.Error("info should be disabled at warn")
	}
	if !newLogger("bogus").Enabled(ctx, slog.LevelInfo) {
		t.Error("unknown level should default to info")
	}
}
