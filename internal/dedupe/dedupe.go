// Package dedupe remembers webhook event ids so that events LINE redelivers
// after a timeout are not answered twice.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"linegem/internal/domain"
)

const keyPrefix = "linegem:event:"

// Key returns the redis key for an event id.
func Key(eventID string) string { return keyPrefix + eventID }

// Redis claims ids with SET NX so several replicas share one view.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.Deduper = (*Redis)(nil)

// NewRedis connects to url and verifies the connection.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

func (r *Redis) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, Key(eventID), 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, eventID string) error {
	if err := r.rdb.Del(ctx, Key(eventID)).Err(); err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

// Memory is a process-local Deduper.
type Memory struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

var _ domain.Deduper = (*Memory)(nil)

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (m *Memory) Claim(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.seen[eventID]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[eventID] = now.Add(m.ttl)

	// Sweep expired ids once the map grows.
	if len(m.seen) > 10000 {
		for id, exp := range m.seen {
			if !now.Before(exp) {
				delete(m.seen, id)
			}
		}
	}
	return true, nil
}

func (m *Memory) Release(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	return nil
}

// Len returns the number of tracked ids.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
