package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is delivery metadata for one signed platform webhook POST.
// Only metadata is stored — never the payload, ciphertext, or key material.
type WebhookEvent struct {
	ID           uuid.UUID `json:"id"`
	Object       string    `json:"object"`
	Field        string    `json:"field"`
	PayloadBytes int       `json:"payload_bytes"`
	ReceivedAt   time.Time `json:"received_at"`
}

// WebhookEventRepository persists webhook delivery metadata for auditing.
type WebhookEventRepository interface {
	Record(ctx context.Context, event *WebhookEvent) error
	ListRecent(ctx context.Context, limit int) ([]WebhookEvent, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
