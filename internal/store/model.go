package store

import "time"

// Purchase links a provisioned identity to one completed checkout
// session. The checkout session id is the natural dedup key; the table
// enforces it unique so webhook replays cannot double-record.
type Purchase struct {
	ID                int64     `json:"id"`
	IdentityID        string    `json:"identity_id"`
	CheckoutSessionID string    `json:"checkout_session_id"`
	CustomerEmail     string    `json:"customer_email"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}
