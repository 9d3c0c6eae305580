package store

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically removes expired
// sessions and stale action records. Expiry is also enforced lazily on
// session access; the sweeper only reclaims storage for conversations that
// never came back.
func StartSweeper(ctx context.Context, repo Repository, actionRetention time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("session sweeper started", "interval", sweepInterval, "action_retention", actionRetention)

		for {
			select {
			case <-ticker.C:
				sessions, actions, err := repo.CleanupExpired(ctx, time.Now(), actionRetention)
				if err != nil {
					slog.Error("session sweeper cleanup failed", "error", err)
					continue
				}
				if sessions > 0 || actions > 0 {
					slog.Info("session sweeper cleanup completed",
						"sessions_deleted", sessions, "actions_deleted", actions)
				}
			case <-ctx.Done():
				slog.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
