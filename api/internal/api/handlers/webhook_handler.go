// api/internal/api/handlers/webhook_handler.go
package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"wexp/api/internal/core/domain"
	"wexp/api/internal/infrastructure/crypto"
)

// WebhookHandler serves the Meta webhook surface: the GET subscription
// handshake and signed POST deliveries.
type WebhookHandler struct {
	Codec       *crypto.FlowCodec
	Events      domain.WebhookEventRepository
	VerifyToken string
	Logger      *slog.Logger
}

func NewWebhookHandler(codec *crypto.FlowCodec, events domain.WebhookEventRepository, verifyToken string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		Codec:       codec,
		Events:      events,
		VerifyToken: verifyToken,
		Logger:      logger,
	}
}

// VerifySubscription handles GET /webhooks — Meta's one-time handshake when
// the webhook URL is registered. Echo hub.challenge on a token match.
func (h *WebhookHandler) VerifySubscription(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("hub.mode") == "subscribe" && h.VerifyToken != "" && q.Get("hub.verify_token") == h.VerifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}

	h.Logger.Warn("Webhook subscription handshake rejected", slog.String("mode", q.Get("hub.mode")))
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// ReceiveEvent handles POST /webhooks
func (h *WebhookHandler) ReceiveEvent(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"message": "Failed to read body"}`, http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if !h.Codec.VerifySignature(rawBody, signature) {
		// Log the attempt, but return a generic 401
		h.Logger.Warn("Forged webhook delivery rejected", slog.Int("bytes", len(rawBody)))
		http.Error(w, `{"message": "Unauthorized: Invalid signature"}`, http.StatusUnauthorized)
		return
	}

	var payload struct {
		Object string `json:"object"`
		Entry  []struct {
			Changes []struct {
				Field string `json:"field"`
			} `json:"changes"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		http.Error(w, `{"message": "Invalid JSON payload"}`, http.StatusBadRequest)
		return
	}

	event := &domain.WebhookEvent{
		Object:       payload.Object,
		PayloadBytes: len(rawBody),
	}
	if len(payload.Entry) > 0 && len(payload.Entry[0].Changes) > 0 {
		event.Field = payload.Entry[0].Changes[0].Field
	}

	// Delivery metadata only; storage failure must not trigger a platform
	// retry storm, so the response stays 200.
	if err := h.Events.Record(r.Context(), event); err != nil {
		h.Logger.Error("Failed to record webhook delivery", slog.Any("error", err))
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))
}

// ListRecent handles GET /api/v1/webhooks/events (diagnostics, token-gated)
func (h *WebhookHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	events, err := h.Events.ListRecent(r.Context(), 50)
	if err != nil {
		h.Logger.Error("Failed to list webhook deliveries", slog.Any("error", err))
		http.Error(w, `{"message": "Lookup failed"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []domain.WebhookEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}
