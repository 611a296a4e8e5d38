// api/internal/api/router/router.go
package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"wexp/api/internal/api/handlers"
	auth_middleware "wexp/api/internal/api/middleware"
)

// RouterConfig defines the strict dependencies required to build the API routing tree.
type RouterConfig struct {
	AllowedOrigins     []string
	FlowHandler        *handlers.FlowHandler
	WebhookHandler     *handlers.WebhookHandler
	AuthHandler        *handlers.AuthHandler
	DiagnosticsHandler *handlers.DiagnosticsHandler
	AuthMiddleware     *auth_middleware.AuthMiddleware
	Logger             *slog.Logger
}

// NewRouter constructs the Chi multiplexer, attaches global middleware, and wires all endpoints.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// =========================================================================
	// 1. Global Gateway Middleware Pipeline
	// =========================================================================

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(auth_middleware.StructuredLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// 🛡️ Limit all incoming requests to 1 Megabyte max (OOM protection for raw-body reads)
	r.Use(auth_middleware.MaxBytes(1_048_576))

	// 🛡️ In-memory token bucket rate limiting
	r.Use(cfg.AuthMiddleware.RateLimit)

	// Strict CORS Configuration. The platform's server-to-server calls don't
	// carry an Origin header; this protects the operator dashboard routes.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Hub-Signature-256"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// =========================================================================
	// 2. Routing Tree
	// =========================================================================

	// Platform webhook surface (authenticated by HMAC signature, not JWT)
	r.Get("/webhooks", cfg.WebhookHandler.VerifySubscription)
	r.Post("/webhooks", cfg.WebhookHandler.ReceiveEvent)

	// WhatsApp Flow data-exchange channel
	r.Route("/api/whatsapp", func(r chi.Router) {
		r.Post("/flow", cfg.FlowHandler.HandleDataExchange)
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ---------------------------------------------------------------------
		// Public Routes (No Auth Required)
		// ---------------------------------------------------------------------
		r.Post("/auth/token", cfg.AuthHandler.Login)

		// ---------------------------------------------------------------------
		// Protected Routes (Requires a Valid Diagnostics Token)
		// ---------------------------------------------------------------------
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthMiddleware.RequireAuthentication)

			r.Get("/diagnostics/flow", cfg.DiagnosticsHandler.StreamFlowDiagnostics)
			r.Get("/webhooks/events", cfg.WebhookHandler.ListRecent)
		})
	})

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	})

	return r
}
