package payment

import (
	"context"

	"github.com/google/uuid"

	"github.com/lunarlabs/accountd/internal/models"
	"github.com/lunarlabs/accountd/internal/pkg/ulid"
)

// ManualService grants and revokes entitlements by administrator action.
// Manual grants flow through the same ledger path as paid ones; the synthetic
// transaction ID keeps the exactly-once bookkeeping uniform.
type ManualService interface {
	Grant(ctx context.Context, accountID uuid.UUID, tier int) (*models.Purchase, error)
	Revoke(ctx context.Context, accountID uuid.UUID) error
}

type manualService struct {
	entitlements Granter
}

// NewManualService creates a new manual grant service.
func NewManualService(entitlements Granter) ManualService {
	return &manualService{entitlements: entitlements}
}

func (s *manualService) Grant(ctx context.Context, accountID uuid.UUID, tier int) (*models.Purchase, error) {
	return s.entitlements.Grant(ctx, accountID, "manual_"+ulid.New(), tier, models.SourceManual)
}

func (s *manualService) Revoke(ctx context.Context, accountID uuid.UUID) error {
	return s.entitlements.RevokeAll(ctx, accountID)
}

// Compile-time check to ensure manualService implements ManualService.
var _ ManualService = (*manualService)(nil)
