package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"wexp/api/internal/core/domain"
)

// WebhookEventRepository persists webhook delivery metadata.
//
// Schema:
//
//	CREATE TABLE webhook_events (
//	    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
//	    object        TEXT NOT NULL,
//	    field         TEXT NOT NULL DEFAULT '',
//	    payload_bytes INT NOT NULL,
//	    received_at   TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type WebhookEventRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepository(pool *pgxpool.Pool) *WebhookEventRepository {
	return &WebhookEventRepository{pool: pool}
}

// Record inserts one delivery and fills in the generated id and timestamp.
func (r *WebhookEventRepository) Record(ctx context.Context, event *domain.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (object, field, payload_bytes)
		VALUES ($1, $2, $3)
		RETURNING id, received_at
	`
	err := r.pool.QueryRow(ctx, query,
		event.Object,
		event.Field,
		event.PayloadBytes,
	).Scan(&event.ID, &event.ReceivedAt)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

// ListRecent returns the newest deliveries for the diagnostics dashboard.
func (r *WebhookEventRepository) ListRecent(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	query := `
		SELECT id, object, field, payload_bytes, received_at
		FROM webhook_events
		ORDER BY received_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		var e domain.WebhookEvent
		if err := rows.Scan(&e.ID, &e.Object, &e.Field, &e.PayloadBytes, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PurgeOlderThan removes rows past the retention window.
func (r *WebhookEventRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhook_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge webhook events: %w", err)
	}
	return tag.RowsAffected(), nil
}
