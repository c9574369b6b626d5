package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers keys of requests that were already accepted.
type IdempotencyStore interface {
	// MarkProcessed marks a key as processed with a TTL.
	// Returns true if the key was newly marked, false if it was already present.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a key has already been marked.
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Forget removes a key so the request can be retried,
	// used when the marked operation ends up failing.
	Forget(ctx context.Context, key string) error

	Close() error
}
