package session

import (
	"context"
	"log/slog"
	"time"
)

const reaperInterval = 5 * time.Minute

// StartReaper runs a background goroutine that periodically removes
// sessions idle for longer than ttl. It stops when ctx is cancelled.
// A non-positive ttl keeps sessions for the life of the process.
func StartReaper(ctx context.Context, svc *InMemoryService, ttl time.Duration, logger *slog.Logger) {
	if ttl <= 0 {
		return
	}
	startReaper(ctx, svc, ttl, min(reaperInterval, ttl), logger)
}

func startReaper(ctx context.Context, svc *InMemoryService, ttl, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		logger.Info("Session reaper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				removed := svc.DeleteIdle(ttl)
				if len(removed) == 0 {
					continue
				}
				for _, key := range removed {
					logger.Debug("Session expired", "user_id", key.UserID, "session_id", key.SessionID)
				}
				logger.Info("Expired idle sessions", "count", len(removed), "remaining", svc.Len())
			case <-ctx.Done():
				logger.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
