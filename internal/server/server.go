package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Zelfconnect/slowcarb/internal/handler"
	"github.com/Zelfconnect/slowcarb/internal/identity"
	"github.com/Zelfconnect/slowcarb/internal/middleware"
	"github.com/Zelfconnect/slowcarb/internal/provision"
	"github.com/Zelfconnect/slowcarb/internal/signature"
	"github.com/Zelfconnect/slowcarb/internal/store"
	"github.com/Zelfconnect/slowcarb/internal/stripe"
)

type Server struct {
	db             *sql.DB
	purchaseStore  *store.PurchaseStore
	identityClient *identity.Client
	stripeClient   *stripe.Client
	webhookH       *handler.WebhookHandler
	sessionH       *handler.SessionHandler
	rateLimiter    *middleware.RateLimiter
	logger         *slog.Logger
}

type Config struct {
	WebhookSecret      string
	SignatureTolerance time.Duration

	StripeAPIKey     string
	StripeBackendURL string

	IdentityURL        string
	IdentityServiceKey string

	SiteURL        string
	AllowedOrigins []string
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	purchaseStore := store.NewPurchaseStore(db)
	identityClient := identity.NewClient(cfg.IdentityURL, cfg.IdentityServiceKey)
	stripeClient := stripe.NewClient(stripe.Config{
		APIKey:     cfg.StripeAPIKey,
		BackendURL: cfg.StripeBackendURL,
	})

	verifier := &signature.Verifier{
		Secret:    cfg.WebhookSecret,
		Tolerance: cfg.SignatureTolerance,
	}
	provisioner := provision.New(identityClient)

	webhookH := handler.NewWebhookHandler(
		verifier, provisioner, identityClient, purchaseStore,
		cfg.SiteURL, logger.With("component", "webhook"),
	)
	sessionH := handler.NewSessionHandler(
		stripeClient, cfg.AllowedOrigins, logger.With("component", "session"),
	)

	return &Server{
		db:             db,
		purchaseStore:  purchaseStore,
		identityClient: identityClient,
		stripeClient:   stripeClient,
		webhookH:       webhookH,
		sessionH:       sessionH,
		rateLimiter:    middleware.NewRateLimiter(),
		logger:         logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Processor webhook: authenticated by signature, never by origin.
	mux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleWebhook)

	// Session confirmation: public, rate-limited per client IP.
	rateLimitMw := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)
	mux.Handle("POST /api/checkout-session", rateLimitMw(http.HandlerFunc(s.sessionH.Confirm)))
	mux.HandleFunc("OPTIONS /api/checkout-session", s.sessionH.Preflight)

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
