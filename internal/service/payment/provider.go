// Package payment adapts external payment providers to the entitlement
// ledger. Every adapter does the same three things: verify the event or order
// with the provider, derive the tier from the amount that was actually paid,
// and hand an (account, transaction ID, tier) triple to the ledger. The
// ledger's idempotency does not depend on which provider delivered the event.
package payment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lunarlabs/accountd/internal/service"
)

// Granter is the slice of the entitlement service the adapters use.
type Granter = service.EntitlementService

// formatCents renders an amount in cents as a decimal string ("649" -> "6.49").
func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// parseCents parses a decimal amount string into cents. Accepts at most two
// fraction digits.
func parseCents(s string) (int64, error) {
	whole, frac, _ := strings.Cut(s, ".")
	dollars, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || dollars < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	var cents int64
	switch len(frac) {
	case 0:
	case 1:
		cents, err = strconv.ParseInt(frac, 10, 64)
		cents *= 10
	case 2:
		cents, err = strconv.ParseInt(frac, 10, 64)
	default:
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if err != nil || cents < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return dollars*100 + cents, nil
}
