package service

import (
	"context"

	"github.com/google/uuid"
)

// Named permissions for the admin surface.
const (
	PermPremiumRead = "user.premium.get"
	PermPremiumSet  = "user.premium.set"
	PermAPIKeySet   = "user.apikey.set"
)

// PermissionChecker answers whether an account holds a named permission.
// The admin handlers depend only on this interface; the backing store can
// change without touching them.
type PermissionChecker interface {
	Has(ctx context.Context, accountID uuid.UUID, permission string) (bool, error)
}

// StaticPermissions grants a fixed permission set to a configured list of
// admin accounts.
type StaticPermissions struct {
	admins map[uuid.UUID]struct{}
}

// NewStaticPermissions builds a checker from admin account ID strings.
// Unparseable IDs are skipped.
func NewStaticPermissions(adminAccounts []string) *StaticPermissions {
	admins := make(map[uuid.UUID]struct{}, len(adminAccounts))
	for _, s := range adminAccounts {
		if id, err := uuid.Parse(s); err == nil {
			admins[id] = struct{}{}
		}
	}
	return &StaticPermissions{admins: admins}
}

// Has reports whether the account is a configured admin. Admins hold every
// named permission.
func (p *StaticPermissions) Has(ctx context.Context, accountID uuid.UUID, permission string) (bool, error) {
	_, ok := p.admins[accountID]
	return ok, nil
}

var _ PermissionChecker = (*StaticPermissions)(nil)
