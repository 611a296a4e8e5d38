package workers

import (
	"context"
	"log/slog"
	"time"

	"wexp/api/internal/core/domain"
)

// EventRetention periodically purges webhook delivery metadata past the
// configured retention window.
type EventRetention struct {
	repo      domain.WebhookEventRepository
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
}

func NewEventRetention(
	repo domain.WebhookEventRepository,
	logger *slog.Logger,
	interval time.Duration,
	retention time.Duration,
) *EventRetention {
	return &EventRetention{
		repo:      repo,
		logger:    logger,
		interval:  interval,
		retention: retention,
	}
}

func (w *EventRetention) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.purge(ctx)
		}
	}
}

func (w *EventRetention) purge(ctx context.Context) {
	cutoff := time.Now().Add(-w.retention)
	purged, err := w.repo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		w.logger.Error("Failed to purge webhook events", slog.Any("error", err))
		return
	}
	if purged > 0 {
		w.logger.Info("Purged webhook events", slog.Int64("count", purged), slog.Time("cutoff", cutoff))
	}
}
