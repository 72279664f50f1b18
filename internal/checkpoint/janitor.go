package checkpoint

import (
	"context"
	"log/slog"
	"time"
)

const janitorInterval = 15 * time.Minute

// StartJanitor runs a background goroutine that periodically prunes
// checkpoints for threads idle beyond ttl. It stops when ctx is canceled.
func StartJanitor(ctx context.Context, store Store, ttl time.Duration) {
	ticker := time.NewTicker(janitorInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Checkpoint janitor started", "interval", janitorInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				pruned, err := store.PruneOlderThan(ctx, ttl)
				if err != nil {
					slog.Error("Checkpoint janitor failed to prune", "error", err)
					continue
				}
				if pruned > 0 {
					slog.Info("Checkpoint janitor pruned stale threads", "count", pruned)
				}
			case <-ctx.Done():
				slog.Info("Checkpoint janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
