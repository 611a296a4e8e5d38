package services

import (
	"context"
	"fmt"
	"log/slog"

	"wexp/api/internal/telemetry"
)

// FlowService interprets decrypted Flow payloads and produces the response
// object the codec encrypts back to the platform. It never sees ciphertext
// or key material — only the already-decrypted JSON.
type FlowService struct {
	logger *slog.Logger
	hub    *telemetry.Hub
}

func NewFlowService(logger *slog.Logger, hub *telemetry.Hub) *FlowService {
	return &FlowService{logger: logger, hub: hub}
}

// Exchange routes one decrypted payload by its action field.
//
// The platform's contract: "ping" is the health check, "error_notification"
// must be acknowledged, "INIT" opens the first screen, "data_exchange" and
// "BACK" navigate between screens. An action outside that set is a platform
// contract violation and surfaces as an error.
func (s *FlowService) Exchange(ctx context.Context, payload map[string]any) (any, error) {
	action, _ := payload["action"].(string)
	screen, _ := payload["screen"].(string)

	// Non-sensitive metadata only; the payload data itself is never logged.
	s.logger.Info("flow data exchange", "action", action, "screen", screen)
	s.hub.Broadcast(telemetry.ChannelFlow, "exchange", fmt.Sprintf("action=%s screen=%s", action, screen))

	switch action {
	case "ping":
		return map[string]any{
			"data": map[string]any{"status": "active"},
		}, nil

	case "error_notification":
		return map[string]any{
			"data": map[string]any{"acknowledged": true},
		}, nil

	case "INIT":
		return map[string]any{
			"screen": "WELCOME",
			"data":   map[string]any{},
		}, nil

	case "data_exchange", "BACK":
		data, _ := payload["data"].(map[string]any)
		if data == nil {
			data = map[string]any{}
		}
		return map[string]any{
			"screen": "SUCCESS",
			"data":   data,
		}, nil

	default:
		return nil, fmt.Errorf("flow exchange: unsupported action %q", action)
	}
}
