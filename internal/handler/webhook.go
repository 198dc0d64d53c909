package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Zelfconnect/slowcarb/internal/identity"
	"github.com/Zelfconnect/slowcarb/internal/metrics"
	"github.com/Zelfconnect/slowcarb/internal/provision"
	"github.com/Zelfconnect/slowcarb/internal/signature"
	"github.com/Zelfconnect/slowcarb/internal/store"
	"github.com/Zelfconnect/slowcarb/internal/stripe"
)

const maxWebhookBody = 65536

// WebhookHandler turns signed payment-completion events into provisioned
// identities. The pipeline is linear: verify, classify, provision, record,
// issue grant. Only a failure before or during provisioning makes the
// processor redeliver; recording and grant issuance are best-effort.
type WebhookHandler struct {
	verifier    *signature.Verifier
	provisioner *provision.Provisioner
	identities  *identity.Client
	purchases   *store.PurchaseStore
	siteURL     string
	logger      *slog.Logger
}

func NewWebhookHandler(
	verifier *signature.Verifier,
	p *provision.Provisioner,
	ic *identity.Client,
	ps *store.PurchaseStore,
	siteURL string,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		verifier:    verifier,
		provisioner: p,
		identities:  ic,
		purchases:   ps,
		siteURL:     siteURL,
		logger:      logger,
	}
}

func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.Observe(time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	// The raw bytes are what was signed; the payload must not be
	// re-serialized before verification.
	if err := h.verifier.Verify(body, r.Header.Get("Stripe-Signature")); err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	event, err := stripe.ParseEvent(body)
	if err != nil {
		h.logger.Warn("webhook body malformed", "error", err)
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	eventType := string(event.Type)
	if eventType != stripe.EventCheckoutCompleted {
		// Acknowledge everything else so the processor stops
		// redelivering events this service never acts on.
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	sess, err := stripe.ParseCheckoutSession(event)
	if err != nil {
		h.logger.Warn("checkout session malformed", "error", err)
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "malformed").Inc()
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	email, err := stripe.ResolveEmail(sess)
	if err != nil {
		h.logger.Warn("checkout session has no email", "session", sess.ID)
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "no_email").Inc()
		http.Error(w, "no email in session", http.StatusBadRequest)
		return
	}

	user, err := h.provisioner.Ensure(r.Context(), email)
	if err != nil {
		h.logger.Error("provision identity", "session", sess.ID, "error", err)
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "provision_failed").Inc()
		http.Error(w, "provisioning failed", http.StatusInternalServerError)
		return
	}

	// From here on the identity is durable. Losing a purchase row or a
	// login link is recoverable out of band; losing the 200 is not, so
	// neither failure changes the response.
	if _, err := h.purchases.Create(user.ID, sess.ID, email); err != nil {
		h.logger.Error("record purchase", "session", sess.ID, "user", user.ID, "error", err)
	}

	if link, err := h.identities.GenerateMagicLink(r.Context(), email, h.siteURL+"/app"); err != nil {
		h.logger.Error("generate magic link", "user", user.ID, "error", err)
	} else if link == "" {
		h.logger.Warn("identity store returned empty magic link", "user", user.ID)
	}

	h.logger.Info("checkout provisioned", "session", sess.ID, "user", user.ID)
	metrics.WebhookEventsTotal.WithLabelValues(eventType, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "userId": user.ID})
}
