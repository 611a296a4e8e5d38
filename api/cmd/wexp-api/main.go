package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"wexp/api/internal/api/handlers"
	"wexp/api/internal/api/middleware"
	"wexp/api/internal/api/router"
	"wexp/api/internal/config"
	"wexp/api/internal/core/services"
	"wexp/api/internal/db/postgres"
	"wexp/api/internal/infrastructure/crypto"
	"wexp/api/internal/telemetry"
	"wexp/api/internal/workers"
)

func main() {
	// --- 1. Core Telemetry & Configuration ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("Booting WEXP backend...")

	// .env is for local development only; absence is fine
	_ = godotenv.Load()
	cfg := config.Load()

	// --- 2. Outbound Infrastructure ---
	dbPool, err := postgres.NewPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("FATAL: DB failed", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// --- 3. Dependency Injection ---
	telemetryHub := telemetry.NewHub()

	// The Flow codec holds the only key material in the process, loaded once.
	// Missing keys disable the capability without taking the host down.
	flowCodec, err := crypto.NewFlowCodec(crypto.CodecConfig{
		PrivateKeyPEM: cfg.FlowPrivateKeyPEM,
		AppSecret:     cfg.AppSecret,
	}, logger, telemetryHub)
	if err != nil {
		logger.Error("FATAL: flow codec init failed", "error", err)
		os.Exit(1)
	}
	if !flowCodec.Enabled() {
		logger.Warn("WhatsApp Flow data exchange disabled: no private key configured")
	}

	// Repositories
	eventRepo := postgres.NewWebhookEventRepository(dbPool)

	// Services
	flowService := services.NewFlowService(logger, telemetryHub)
	tokenService := services.NewTokenService(cfg.JWTSecret, cfg.OperatorPassHash)

	// Handlers
	flowHandler := handlers.NewFlowHandler(flowCodec, flowService, logger)
	webhookHandler := handlers.NewWebhookHandler(flowCodec, eventRepo, cfg.WebhookVerifyToken, logger)
	authHandler := handlers.NewAuthHandler(tokenService)
	diagHandler := handlers.NewDiagnosticsHandler(telemetryHub, logger)

	authMiddleware := middleware.NewAuthMiddleware(tokenService, logger)

	// --- 4. Background Workers ---
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	retention := workers.NewEventRetention(eventRepo, logger, time.Hour, cfg.WebhookRetention)
	go retention.Start(workerCtx)

	// --- 5. HTTP Gateway ---
	mux := router.NewRouter(router.RouterConfig{
		AllowedOrigins:     cfg.AllowedOrigins,
		FlowHandler:        flowHandler,
		WebhookHandler:     webhookHandler,
		AuthHandler:        authHandler,
		DiagnosticsHandler: diagHandler,
		AuthMiddleware:     authMiddleware,
		Logger:             logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// --- 6. Graceful Exit ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("WEXP API active", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("CRITICAL: Server crashed", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("Shutting down...")
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ERROR: Forced shutdown", "error", err)
	}
	logger.Info("WEXP backend shutdown complete.")
}
