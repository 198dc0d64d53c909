package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Zelfconnect/slowcarb/internal/logging"
	"github.com/Zelfconnect/slowcarb/internal/metrics"
	"github.com/Zelfconnect/slowcarb/internal/server"
	"github.com/Zelfconnect/slowcarb/internal/signature"
	"github.com/Zelfconnect/slowcarb/internal/store"
)

func main() {
	logger := logging.Setup(os.Getenv("PAYMENTS_LOG_LEVEL"))

	port := os.Getenv("PAYMENTS_PORT")
	if port == "" {
		port = "8091"
	}

	dbPath := os.Getenv("PAYMENTS_DB_PATH")
	if dbPath == "" {
		dbPath = "payments.db"
	}

	siteURL := os.Getenv("SITE_URL")
	if siteURL == "" {
		siteURL = "http://localhost:3000"
	}

	// Secrets have no defaults; refusing to start beats silently
	// accepting unauthenticated webhooks.
	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	stripeKey := os.Getenv("STRIPE_SECRET_KEY")
	identityURL := os.Getenv("IDENTITY_API_URL")
	identityKey := os.Getenv("IDENTITY_SERVICE_KEY")
	if webhookSecret == "" || stripeKey == "" || identityURL == "" || identityKey == "" {
		slog.Error("missing required configuration",
			"webhook_secret_set", webhookSecret != "",
			"stripe_key_set", stripeKey != "",
			"identity_url_set", identityURL != "",
			"identity_key_set", identityKey != "")
		os.Exit(1)
	}

	allowedOrigins := splitOrigins(os.Getenv("ALLOWED_ORIGINS"))
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{siteURL}
	}

	tolerance := signature.DefaultTolerance
	if raw := os.Getenv("WEBHOOK_TOLERANCE"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			slog.Error("invalid WEBHOOK_TOLERANCE", "value", raw, "error", err)
			os.Exit(1)
		}
		tolerance = d
	}

	db, err := store.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	metrics.Register()

	srv := server.New(db, server.Config{
		WebhookSecret:      webhookSecret,
		SignatureTolerance: tolerance,
		StripeAPIKey:       stripeKey,
		IdentityURL:        identityURL,
		IdentityServiceKey: identityKey,
		SiteURL:            siteURL,
		AllowedOrigins:     allowedOrigins,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("payments service starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
