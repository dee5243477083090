package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tempolink/tempolink/internal/v1/admin"
	"github.com/tempolink/tempolink/internal/v1/auth"
	"github.com/tempolink/tempolink/internal/v1/config"
	"github.com/tempolink/tempolink/internal/v1/health"
	"github.com/tempolink/tempolink/internal/v1/identity"
	"github.com/tempolink/tempolink/internal/v1/logging"
	"github.com/tempolink/tempolink/internal/v1/ratelimit"
	"github.com/tempolink/tempolink/internal/v1/replay"
	"github.com/tempolink/tempolink/internal/v1/session"
	"github.com/tempolink/tempolink/internal/v1/tracing"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	slog.Info("Configuration loaded",
		"identity_base_url", cfg.IdentityBaseURL,
		"admin_jwt_secret", config.RedactSecret(cfg.AdminJWTSecret),
		"room_max_users", cfg.RoomMaxUsers,
		"replay_enabled", cfg.ReplayEnabled,
		"room_creation_enabled", cfg.RoomCreationEnabled)

	// --- Tracing (Optional) ---
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), "tempolink", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
			slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollectorAddr)
		}
	}

	// --- Admin token validator ---
	authValidator, err := auth.NewValidator(cfg.AdminJWTSecret)
	if err != nil {
		slog.Error("Failed to create auth validator", "error", err)
		os.Exit(1)
	}

	// --- Upstream identity ---
	identityClient := identity.NewClient(cfg.IdentityBaseURL)
	quotes := identity.NewQuoteCache(cfg.QuoteURL)

	// --- Replay recorder ---
	recorder := replay.NewRecorder(cfg.ReplayDir)

	// --- Operator event feed + hub ---
	allowedOrigins := auth.GetAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})
	feed := admin.NewFeed(authValidator, allowedOrigins)
	hub := session.NewHub(cfg, identityClient, quotes, recorder, feed)

	// --- Game TCP listener ---
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		slog.Error("Failed to bind game listener", "port", cfg.Port, "error", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("Game server listening", "port", cfg.Port)
		if err := hub.Serve(ln); err != nil {
			slog.Error("Game listener failed", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// --- Admin HTTP server ---
	rl, err := ratelimit.NewRateLimiter(cfg)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}
	healthHandler := health.NewHandler(cfg.IdentityBaseURL)
	adminServer := admin.NewServer(hub, authValidator, feed)
	srv := &http.Server{
		Addr:    ":" + cfg.AdminPort,
		Handler: adminServer.Router(cfg, rl, healthHandler),
	}
	go func() {
		slog.Info("Admin server starting", "port", cfg.AdminPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run admin server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = ln.Close()
	hub.Shutdown(ctx)

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Admin server forced to shutdown:", "error", err)
	}

	// Flush any replay data still queued.
	recorder.Close()

	slog.Info("Server exiting")
}
