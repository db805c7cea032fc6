package memory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"linegem/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "records.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_InsertAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, text := range []string{"first", "second", "third"} {
		err := s.Insert(ctx, domain.ConversationRecord{
			UserID:       "U1",
			MessageID:    text,
			Type:         "text",
			Content:      text,
			ReplyToken:   "tok",
			ReplyContent: "re: " + text,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Insert(ctx, domain.ConversationRecord{UserID: "U2", Type: "text", Content: "other"}); err != nil {
		t.Fatal(err)
	}

	recs, err := s.Recent(ctx, "U1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Content != "third" || recs[1].Content != "second" {
		t.Errorf("expected newest first, got %q, %q", recs[0].Content, recs[1].Content)
	}
	if recs[0].ReplyContent != "re: third" || recs[0].ID == 0 {
		t.Errorf("unexpected record: %+v", recs[0])
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("expected 4 rows, got %d", n)
	}
}

func TestSQLiteStore_ConcurrentInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Insert(ctx, domain.ConversationRecord{Type: "text", Content: "x"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n, _ := s.Count(ctx); n != 20 {
		t.Fatalf("expected 20 rows, got %d", n)
	}
}

func TestSupabaseStore_Insert(t *testing.T) {
	var got map[string]any
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/messages" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSupabaseStore(SupabaseStoreConfig{URL: srv.URL + "/", Key: "svc", Logger: testLogger()})
	err := s.Insert(context.Background(), domain.ConversationRecord{
		ID:           99,
		UserID:       "U1",
		MessageID:    "m1",
		Type:         "text",
		Content:      "hi",
		ReplyToken:   "r1",
		ReplyContent: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}

	if headers.Get("apikey") != "svc" || headers.Get("Authorization") != "Bearer svc" {
		t.Errorf("missing auth headers: %v", headers)
	}
	if headers.Get("Prefer") != "return=minimal" {
		t.Errorf("expected Prefer: return=minimal, got %q", headers.Get("Prefer"))
	}
	if got["user_id"] != "U1" || got["reply_content"] != "hello" || got["type"] != "text" {
		t.Errorf("unexpected row: %v", got)
	}
	if _, ok := got["id"]; ok {
		t.Error("id must not be sent")
	}
}

func TestSupabaseStore_InsertError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"relation does not exist"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewSupabaseStore(SupabaseStoreConfig{URL: srv.URL, Key: "k", Table: "missing"})
	if err := s.Insert(context.Background(), domain.ConversationRecord{Type: "text"}); err == nil {
		t.Fatal("expected error on 404")
	}
}

func TestNop(t *testing.T) {
	var s domain.RecordStore = Nop{}
	if err := s.Insert(context.Background(), domain.ConversationRecord{}); err != nil {
		t.Fatal(err)
	}
}
