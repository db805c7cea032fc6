package domain

import "context"

// Deduper claims webhook event ids so redelivered events are answered once.
type Deduper interface {
	// Claim returns true when the id was not seen before.
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release forgets a claimed id so a redelivery is handled again.
	Release(ctx context.Context, eventID string) error
}
