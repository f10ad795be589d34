package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey represents an account's API key. Each account holds at most one key;
// rotation replaces the row transactionally.
type APIKey struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	AccountID     uuid.UUID  `json:"account_id" db:"account_id"`
	Key           string     `json:"key" db:"key"`
	DailyQuota    int        `json:"daily_quota" db:"daily_quota"`
	RequestsToday int        `json:"requests_today" db:"requests_today"`
	RequestsTotal int64      `json:"requests_total" db:"requests_total"`
	LastRequest   *time.Time `json:"last_request,omitempty" db:"last_request"`
	Disabled      bool       `json:"disabled" db:"disabled"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
