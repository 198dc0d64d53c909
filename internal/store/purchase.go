package store

import (
	"database/sql"
	"fmt"
)

type PurchaseStore struct {
	db *sql.DB
}

func NewPurchaseStore(db *sql.DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

func scanPurchase(scanner interface{ Scan(...any) error }) (*Purchase, error) {
	var p Purchase
	err := scanner.Scan(&p.ID, &p.IdentityID, &p.CheckoutSessionID, &p.CustomerEmail, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const purchaseCols = `id, identity_id, checkout_session_id, customer_email, status, created_at`

// Create records an active purchase for the identity. Replays of the same
// checkout session are no-ops; the original row is returned either way.
func (s *PurchaseStore) Create(identityID, checkoutSessionID, email string) (*Purchase, error) {
	_, err := s.db.Exec(
		`INSERT INTO purchases (identity_id, checkout_session_id, customer_email, status)
		 VALUES (?, ?, ?, 'active')
		 ON CONFLICT(checkout_session_id) DO NOTHING`,
		identityID, checkoutSessionID, email,
	)
	if err != nil {
		return nil, fmt.Errorf("insert purchase: %w", err)
	}
	p, err := s.GetBySessionID(checkoutSessionID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("purchase for session %s missing after insert", checkoutSessionID)
	}
	return p, nil
}

func (s *PurchaseStore) GetBySessionID(checkoutSessionID string) (*Purchase, error) {
	row := s.db.QueryRow(`SELECT `+purchaseCols+` FROM purchases WHERE checkout_session_id = ?`, checkoutSessionID)
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase by session: %w", err)
	}
	return p, nil
}

// ListByIdentity returns all purchases for an identity, newest first.
// Used by reconciliation against the processor's own event log.
func (s *PurchaseStore) ListByIdentity(identityID string) ([]*Purchase, error) {
	rows, err := s.db.Query(
		`SELECT `+purchaseCols+` FROM purchases WHERE identity_id = ? ORDER BY created_at DESC`,
		identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func (s *PurchaseStore) CountAll() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM purchases`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count purchases: %w", err)
	}
	return n, nil
}
