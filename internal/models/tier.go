package models

import "time"

// Tier defines one row of the premium tier table.
type Tier struct {
	ID         int
	PriceCents int64
	Duration   time.Duration
}

// The authoritative tier table. Payment amounts are cross-checked against
// PriceCents server-side; client-claimed tiers are never trusted.
var tiers = map[int]Tier{
	0: {ID: 0, PriceCents: 649, Duration: 30 * 24 * time.Hour},
	1: {ID: 1, PriceCents: 2999, Duration: 365 * 24 * time.Hour},
	2: {ID: 2, PriceCents: 7499, Duration: 99999 * 24 * time.Hour},
}

// TierByID looks up a tier. The second return is false for unknown tiers.
func TierByID(id int) (Tier, bool) {
	t, ok := tiers[id]
	return t, ok
}

// TierByAmount maps a paid amount in cents to a tier. Used to derive the tier
// from what the provider says was actually paid.
func TierByAmount(cents int64) (Tier, bool) {
	for _, t := range tiers {
		if t.PriceCents == cents {
			return t, true
		}
	}
	return Tier{}, false
}
