// api/internal/api/handlers/diagnostics_handler.go
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"wexp/api/internal/core/domain"
	"wexp/api/internal/telemetry"
)

// ==============================================================================
// 1. WebSocket Configuration & Constants
// ==============================================================================

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. (We only stream OUT, so inbound is tiny).
	maxMessageSize = 512
)

// The route sits behind RequireAuthentication, and the chi CORS middleware
// already validated the Origin header before the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ==============================================================================
// 2. The Handler Struct (Dependency Injection)
// ==============================================================================

// DiagnosticsHandler streams codec diagnostic events to the operator
// dashboard. This is the consumer side of the internal diagnostic channel:
// the only place the cause behind an opaque decryption failure is visible.
type DiagnosticsHandler struct {
	Hub    *telemetry.Hub
	Logger *slog.Logger
}

func NewDiagnosticsHandler(hub *telemetry.Hub, logger *slog.Logger) *DiagnosticsHandler {
	return &DiagnosticsHandler{
		Hub:    hub,
		Logger: logger,
	}
}

// ==============================================================================
// 3. HTTP Methods (The Upgrader)
// ==============================================================================

// StreamFlowDiagnostics handles GET /api/v1/diagnostics/flow
func (h *DiagnosticsHandler) StreamFlowDiagnostics(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(domain.OperatorContextKey).(*domain.OperatorClaims)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("WebSocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	h.Logger.Info("Diagnostics stream opened", slog.String("operator", claims.Subject))

	events := h.Hub.Subscribe(telemetry.ChannelFlow)
	defer h.Hub.Unsubscribe(telemetry.ChannelFlow, events)

	// Reader goroutine: we never expect inbound frames, but reading is what
	// surfaces close frames and pongs.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
