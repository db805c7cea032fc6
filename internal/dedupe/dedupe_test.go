package dedupe

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemory_ClaimOnce(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	first, _ := m.Claim(ctx, "ev1")
	second, _ := m.Claim(ctx, "ev1")
	other, _ := m.Claim(ctx, "ev2")
	if !first || second || !other {
		t.Fatalf("got first=%v second=%v other=%v", first, second, other)
	}
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Claim(context.Background(), "ev")
	now = now.Add(2 * time.Minute)
	ok, _ := m.Claim(context.Background(), "ev")
	if !ok {
		t.Fatal("expired id should be claimable again")
	}
}

func TestMemory_ConcurrentClaimsSingleWinner(t *testing.T) {
	m := NewMemory(time.Minute)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Claim(context.Background(), "same"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestMemory_Release(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()
	m.Claim(ctx, "ev")
	if err := m.Release(ctx, "ev"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := m.Claim(ctx, "ev"); !ok {
		t.Fatal("released id should be claimable again")
	}
}

func TestKey(t *testing.T) {
	if got := Key("01H"); got != "linegem:event:01H" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestNewRedis_BadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "://nope", time.Minute); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRedis_Claim(t *testing.T) {
	url := os.Getenv("LINEGEM_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LINEGEM_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, url, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	id := uuid.NewString()
	first, err := r.Claim(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := r.Claim(ctx, id)
	if !first || second {
		t.Fatalf("got first=%v second=%v", first, second)
	}
	if err := r.Release(ctx, id); err != nil {
		t.Fatal(err)
	}
	if again, _ := r.Claim(ctx, id); !again {
		t.Fatal("released id should be claimable again")
	}
	r.rdb.Del(ctx, Key(id))
}
