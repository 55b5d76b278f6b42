package eventstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/rulecore/storage"
)

// RunRetention deletes events older than ttl every interval until ctx is
// done. It returns immediately when ttl or interval is zero.
func RunRetention(ctx context.Context, store storage.EventStore, ttl, interval time.Duration, logger *slog.Logger) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.DeleteBefore(ctx, now.Add(-ttl).UnixMilli())
			if err != nil {
				logger.Warn("Event retention cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("Event retention cleanup", "removed", n)
			}
		}
	}
}
