// Package checkpoint provides durable, thread-keyed persistence of
// conversation state between turns.
package checkpoint

import (
	"context"
	"time"

	"github.com/transitops/movi/internal/domain"
)

// Store defines the checkpoint contract. A Save that returns nil guarantees
// a subsequent Load for the same thread observes that state or a later one.
// Writes for a single thread are serialized; the orchestrator holds a
// per-thread lock for the whole turn, so a store only needs to apply each
// Save atomically.
type Store interface {
	// Load retrieves the state for a thread. Returns (nil, nil) when the
	// thread has no checkpoint yet.
	Load(ctx context.Context, threadID string) (*domain.ThreadState, error)

	// Save persists the full state for a thread, replacing any prior
	// checkpoint. The whole turn's mutation set is applied or none of it.
	Save(ctx context.Context, state *domain.ThreadState) error

	// Delete removes the checkpoint for a thread.
	Delete(ctx context.Context, threadID string) error

	// PruneOlderThan removes checkpoints idle for longer than ttl and
	// returns the number removed. Retention is an operational concern;
	// the orchestrator never calls this.
	PruneOlderThan(ctx context.Context, ttl time.Duration) (int64, error)

	// Close releases store resources.
	Close() error
}
