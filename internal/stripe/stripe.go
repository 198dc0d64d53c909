// Package stripe wraps the payment processor's API: webhook payload
// parsing, purchaser email resolution, and checkout-session lookup.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// EventCheckoutCompleted is the only event type this service acts on.
// Everything else is acknowledged and dropped.
const EventCheckoutCompleted = "checkout.session.completed"

// ErrNoEmail is returned when a checkout session carries no purchaser
// email in either of its two locations.
var ErrNoEmail = errors.New("stripe: checkout session has no email")

type Config struct {
	APIKey string

	// BackendURL overrides the API host. Empty means api.stripe.com;
	// tests point it at a local server.
	BackendURL string
}

type Client struct {
	api *client.API
}

func NewClient(cfg Config) *Client {
	api := &client.API{}
	var backends *stripe.Backends
	if cfg.BackendURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL: stripe.String(cfg.BackendURL),
			}),
		}
	}
	api.Init(cfg.APIKey, backends)
	return &Client{api: api}
}

// GetCheckoutSession fetches a checkout session by id. The caller bounds
// the round-trip through ctx.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return sess, nil
}

// IsAPIError reports whether err came back from the processor's API as a
// request-level failure (unknown session, bad id) rather than a local or
// transport fault.
func IsAPIError(err error) bool {
	var apiErr *stripe.Error
	return errors.As(err, &apiErr)
}

// ParseEvent decodes a raw webhook payload. Payloads arrive
// signature-verified but otherwise untrusted, so malformed JSON is an
// error the caller turns into a 400, never a fault.
func ParseEvent(payload []byte) (stripe.Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return stripe.Event{}, fmt.Errorf("parse event: %w", err)
	}
	return event, nil
}

// ParseCheckoutSession decodes the session object out of a
// checkout.session.completed event.
func ParseCheckoutSession(event stripe.Event) (*stripe.CheckoutSession, error) {
	var sess stripe.CheckoutSession
	if event.Data == nil {
		return nil, errors.New("event has no data object")
	}
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("parse checkout session: %w", err)
	}
	return &sess, nil
}

// ResolveEmail returns the purchaser email for a checkout session:
// customer_email when set, otherwise customer_details.email. The result
// is normalized for use as a case-insensitive identity key.
func ResolveEmail(sess *stripe.CheckoutSession) (string, error) {
	email := sess.CustomerEmail
	if email == "" && sess.CustomerDetails != nil {
		email = sess.CustomerDetails.Email
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrNoEmail
	}
	return email, nil
}
