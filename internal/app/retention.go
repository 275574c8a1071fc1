package app

import (
	"context"
	"log/slog"
	"time"
)

const retentionWorkerInterval = time.Hour

// HistoryCleaner deletes persisted history older than a cutoff.
type HistoryCleaner interface {
	CleanupHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StartRetentionWorker periodically prunes persisted history older than
// retention until ctx is done. A non-positive retention disables it.
func StartRetentionWorker(ctx context.Context, cleaner HistoryCleaner, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(retentionWorkerInterval)
	go func() {
		defer ticker.Stop()
		logger.Info("Retention worker started", "interval", retentionWorkerInterval, "retention", retention)

		pruneHistory(ctx, cleaner, retention, logger)
		for {
			select {
			case <-ticker.C:
				pruneHistory(ctx, cleaner, retention, logger)
			case <-ctx.Done():
				logger.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func pruneHistory(ctx context.Context, cleaner HistoryCleaner, retention time.Duration, logger *slog.Logger) int64 {
	deleted, err := cleaner.CleanupHistory(ctx, retention)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Retention worker failed to prune history", "error", err)
		}
		return 0
	}
	if deleted > 0 {
		logger.Info("Retention worker pruned history", "count", deleted)
	}
	return deleted
}
