// Package models defines the domain records stored by the service.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a user account. Username and Email are stored lowercased;
// lookups lowercase their input before comparing.
type Account struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Session represents an authenticated session. Token is an opaque random
// value; ExpiresAt slides forward on every successful resolve.
type Session struct {
	Token        string    `json:"-" db:"token"`
	AccountID    uuid.UUID `json:"account_id" db:"account_id"`
	IP           string    `json:"ip" db:"ip"`
	UserAgent    string    `json:"user_agent" db:"user_agent"`
	LastActivity time.Time `json:"last_activity" db:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// PasswordReset is a single-use reset token. It is consumed (deleted) on the
// first finalize attempt, successful or not.
type PasswordReset struct {
	Token     string    `json:"-" db:"token"`
	AccountID uuid.UUID `json:"account_id" db:"account_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
