package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// idempotencyRetention keeps keys long enough to reject late duplicates.
const idempotencyRetention = 30 * 24 * time.Hour

// IdempotencyCleaner prunes expired idempotency keys.
type IdempotencyCleaner struct {
	store   *shared.IdempotencyStore
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewIdempotencyCleaner constructs the cleaner.
func NewIdempotencyCleaner(store *shared.IdempotencyStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleaner{store: store, logger: logger, metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (c *IdempotencyCleaner) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := c.metrics.Track("idempotency_cleanup")
	if err := c.store.Cleanup(ctx, idempotencyRetention); err != nil {
		c.logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	c.logger.Info("idempotency cleanup complete")
	return tracker.End(nil)
}
