package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lunarlabs/accountd/internal/models"
	apierrors "github.com/lunarlabs/accountd/internal/pkg/errors"
	"github.com/lunarlabs/accountd/internal/repository"
)

var (
	grantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountd_entitlement_grants_total",
			Help: "Total entitlement grants credited, by source",
		},
		[]string{"source"},
	)

	duplicateGrantsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountd_entitlement_duplicate_grants_total",
			Help: "Grant attempts rejected because the transaction ID was already consumed",
		},
	)

	chargebacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountd_entitlement_chargebacks_total",
			Help: "Purchases flagged as chargebacked",
		},
	)
)

// EntitlementService is the idempotent entitlement ledger.
type EntitlementService interface {
	// Grant credits tier to the account, keyed by the external transaction ID.
	// Exactly-once: replaying the same txnID returns ErrDuplicateTransaction
	// and credits nothing, no matter how the calls interleave.
	Grant(ctx context.Context, accountID uuid.UUID, txnID string, tier int, source string) (*models.Purchase, error)

	// Status reports whether the account currently has premium and until when.
	Status(ctx context.Context, accountID uuid.UUID) (*models.PremiumStatus, error)

	// History returns the account's full purchase ledger.
	History(ctx context.Context, accountID uuid.UUID) ([]*models.Purchase, error)

	// RevokeAll deactivates the account's purchases. The rows and their
	// transaction IDs remain, so revoked transactions can never re-credit.
	RevokeAll(ctx context.Context, accountID uuid.UUID) error

	// MarkChargeback flags the purchase behind a disputed or refunded
	// transaction; it stops conferring premium immediately.
	MarkChargeback(ctx context.Context, txnID string) error
}

type entitlementService struct {
	purchaseRepo repository.PurchaseRepository
}

// NewEntitlementService creates a new entitlement service.
func NewEntitlementService(purchaseRepo repository.PurchaseRepository) EntitlementService {
	return &entitlementService{purchaseRepo: purchaseRepo}
}

func (s *entitlementService) Grant(ctx context.Context, accountID uuid.UUID, txnID string, tier int, source string) (*models.Purchase, error) {
	if txnID == "" {
		return nil, apierrors.NewValidationError("txn_id", "transaction id is required")
	}
	t, ok := models.TierByID(tier)
	if !ok {
		return nil, apierrors.ErrUnknownTier
	}

	purchase := &models.Purchase{
		AccountID: accountID,
		TxnID:     txnID,
		Tier:      t.ID,
		Source:    source,
		ExpiresAt: time.Now().Add(t.Duration),
	}
	if err := s.purchaseRepo.Insert(ctx, purchase); err != nil {
		if errors.Is(err, repository.ErrDuplicateTxn) {
			duplicateGrantsTotal.Inc()
			return nil, apierrors.ErrDuplicateTransaction
		}
		return nil, apierrors.ErrServiceUnavailable
	}

	grantsTotal.WithLabelValues(source).Inc()
	return purchase, nil
}

func (s *entitlementService) Status(ctx context.Context, accountID uuid.UUID) (*models.PremiumStatus, error) {
	active, err := s.purchaseRepo.ListActive(ctx, accountID)
	if err != nil {
		return nil, apierrors.ErrServiceUnavailable
	}
	if len(active) == 0 {
		return &models.PremiumStatus{Premium: false}, nil
	}

	// ListActive orders by expiry descending; the first row wins.
	best := active[0]
	return &models.PremiumStatus{
		Premium:   true,
		Tier:      &best.Tier,
		ExpiresAt: &best.ExpiresAt,
	}, nil
}

func (s *entitlementService) History(ctx context.Context, accountID uuid.UUID) ([]*models.Purchase, error) {
	purchases, err := s.purchaseRepo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, apierrors.ErrServiceUnavailable
	}
	return purchases, nil
}

func (s *entitlementService) RevokeAll(ctx context.Context, accountID uuid.UUID) error {
	if err := s.purchaseRepo.DeactivateByAccount(ctx, accountID); err != nil {
		return apierrors.ErrServiceUnavailable
	}
	return nil
}

func (s *entitlementService) MarkChargeback(ctx context.Context, txnID string) error {
	n, err := s.purchaseRepo.MarkChargeback(ctx, txnID)
	if err != nil {
		return apierrors.ErrServiceUnavailable
	}
	if n > 0 {
		chargebacksTotal.Inc()
	}
	return nil
}

// Compile-time check to ensure entitlementService implements EntitlementService.
var _ EntitlementService = (*entitlementService)(nil)
