package models

import (
	"time"

	"github.com/google/uuid"
)

// Purchase sources.
const (
	SourceStripe = "stripe"
	SourcePayPal = "paypal"
	SourceManual = "manual"
)

// Purchase is one entry in the entitlement ledger. TxnID is globally unique;
// inserting a duplicate is how replayed provider events are detected. Rows are
// deactivated on revocation, never deleted, so a consumed TxnID stays consumed.
type Purchase struct {
	ID           uuid.UUID `json:"id" db:"id"`
	AccountID    uuid.UUID `json:"account_id" db:"account_id"`
	TxnID        string    `json:"txn_id" db:"txn_id"`
	Tier         int       `json:"tier" db:"tier"`
	Source       string    `json:"source" db:"source"`
	Active       bool      `json:"active" db:"active"`
	Chargebacked bool      `json:"chargebacked" db:"chargebacked"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Confers reports whether the purchase grants premium at the given instant.
func (p *Purchase) Confers(now time.Time) bool {
	return p.Active && !p.Chargebacked && p.ExpiresAt.After(now)
}

// PremiumStatus summarizes an account's entitlement.
type PremiumStatus struct {
	Premium   bool       `json:"premium"`
	Tier      *int       `json:"tier,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
