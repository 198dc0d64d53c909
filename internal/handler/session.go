package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Zelfconnect/slowcarb/internal/metrics"
	"github.com/Zelfconnect/slowcarb/internal/stripe"
)

const upstreamTimeout = 10 * time.Second

// SessionHandler lets the client confirm a completed checkout right after
// the redirect back from hosted checkout, before (or without) the webhook
// arriving. It reads the session from the processor and returns the
// purchaser email; it provisions nothing.
type SessionHandler struct {
	stripeClient   *stripe.Client
	allowedOrigins []string
	logger         *slog.Logger
}

func NewSessionHandler(sc *stripe.Client, allowedOrigins []string, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		stripeClient:   sc,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// setCORS writes the CORS headers for the request's origin. Unrecognized
// origins get the first allow-listed origin back, which the browser then
// refuses to match; the server itself never blocks the request. An empty
// allow-list emits no Allow-Origin header at all, denying every origin.
func (h *SessionHandler) setCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Vary", "Origin")
	if len(h.allowedOrigins) == 0 {
		return
	}
	allowed := h.allowedOrigins[0]
	origin := r.Header.Get("Origin")
	for _, o := range h.allowedOrigins {
		if o == origin {
			allowed = origin
			break
		}
	}
	w.Header().Set("Access-Control-Allow-Origin", allowed)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

// Preflight answers the CORS preflight with headers only.
func (h *SessionHandler) Preflight(w http.ResponseWriter, r *http.Request) {
	h.setCORS(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Confirm resolves a checkout session id to the purchaser email.
func (h *SessionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.setCORS(w, r)

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		metrics.SessionConfirmTotal.WithLabelValues("missing_id").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing session_id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout)
	defer cancel()

	sess, err := h.stripeClient.GetCheckoutSession(ctx, req.SessionID)
	if err != nil {
		if stripe.IsAPIError(err) {
			// Deliberately generic: upstream error detail stays here.
			h.logger.Warn("session lookup rejected", "session", req.SessionID, "error", err)
			metrics.SessionConfirmTotal.WithLabelValues("invalid_session").Inc()
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid session"})
			return
		}
		h.logger.Error("session lookup failed", "session", req.SessionID, "error", err)
		metrics.SessionConfirmTotal.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		return
	}

	email, err := stripe.ResolveEmail(sess)
	if err != nil {
		metrics.SessionConfirmTotal.WithLabelValues("no_email").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No email found in session"})
		return
	}

	metrics.SessionConfirmTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"email": email})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response", "error", err)
	}
}
