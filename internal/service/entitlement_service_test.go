package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunarlabs/accountd/internal/models"
	apierrors "github.com/lunarlabs/accountd/internal/pkg/errors"
	"github.com/lunarlabs/accountd/internal/repository"
)

// memPurchaseRepo is an in-memory PurchaseRepository that enforces the txn_id
// unique constraint under a mutex, so concurrent Grant calls behave like they
// do against the real unique index.
type memPurchaseRepo struct {
	mu        sync.Mutex
	purchases []*models.Purchase
	seenTxn   map[string]struct{}
}

func newMemPurchaseRepo() *memPurchaseRepo {
	return &memPurchaseRepo{seenTxn: make(map[string]struct{})}
}

func (r *memPurchaseRepo) Insert(ctx context.Context, purchase *models.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seenTxn[purchase.TxnID]; dup {
		return repository.ErrDuplicateTxn
	}
	r.seenTxn[purchase.TxnID] = struct{}{}

	purchase.ID = uuid.New()
	purchase.Active = true
	purchase.CreatedAt = time.Now()
	cp := *purchase
	r.purchases = append(r.purchases, &cp)
	return nil
}

func (r *memPurchaseRepo) ListActive(ctx context.Context, accountID uuid.UUID) ([]*models.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Purchase
	now := time.Now()
	for _, p := range r.purchases {
		if p.AccountID == accountID && p.Confers(now) {
			out = append(out, p)
		}
	}
	// Furthest expiry first, matching the SQL ordering.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ExpiresAt.After(out[i].ExpiresAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (r *memPurchaseRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Purchase
	for _, p := range r.purchases {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPurchaseRepo) DeactivateByAccount(ctx context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.purchases {
		if p.AccountID == accountID {
			p.Active = false
		}
	}
	return nil
}

func (r *memPurchaseRepo) MarkChargeback(ctx context.Context, txnID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.purchases {
		if p.TxnID == txnID {
			p.Chargebacked = true
			n++
		}
	}
	return n, nil
}

var _ repository.PurchaseRepository = (*memPurchaseRepo)(nil)

func TestEntitlementService_Grant(t *testing.T) {
	ctx := context.Background()
	svc := NewEntitlementService(newMemPurchaseRepo())

	accountID := uuid.New()
	purchase, err := svc.Grant(ctx, accountID, "txn_1", 0, models.SourceStripe)
	require.NoError(t, err)
	assert.Equal(t, accountID, purchase.AccountID)
	assert.Equal(t, 0, purchase.Tier)
	assert.Equal(t, models.SourceStripe, purchase.Source)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), purchase.ExpiresAt, time.Minute)

	status, err := svc.Status(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, status.Premium)
	require.NotNil(t, status.Tier)
	assert.Equal(t, 0, *status.Tier)
}

func TestEntitlementService_Grant_Validation(t *testing.T) {
	ctx := context.Background()
	svc := NewEntitlementService(newMemPurchaseRepo())

	_, err := svc.Grant(ctx, uuid.New(), "", 0, models.SourceManual)
	assert.Error(t, err, "empty txn id")

	_, err = svc.Grant(ctx, uuid.New(), "txn_x", 9, models.SourceManual)
	assert.Equal(t, apierrors.ErrUnknownTier, err)
}

func TestEntitlementService_Grant_Duplicate(t *testing.T) {
	ctx := context.Background()
	svc := NewEntitlementService(newMemPurchaseRepo())

	accountID := uuid.New()
	_, err := svc.Grant(ctx, accountID, "txn_dup", 1, models.SourcePayPal)
	require.NoError(t, err)

	// Replaying the same transaction credits nothing.
	_, err = svc.Grant(ctx, accountID, "txn_dup", 1, models.SourcePayPal)
	assert.Equal(t, apierrors.ErrDuplicateTransaction, err)

	history, err := svc.History(ctx, accountID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEntitlementService_Grant_ConcurrentSameTxn(t *testing.T) {
	ctx := context.Background()
	repo := newMemPurchaseRepo()
	svc := NewEntitlementService(repo)

	accountID := uuid.New()
	const workers = 16

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Grant(ctx, accountID, "txn_race", 0, models.SourceStripe)
		}(i)
	}
	wg.Wait()

	// Exactly one insert wins, however the calls interleave.
	var ok, dup int
	for _, err := range errs {
		switch err {
		case nil:
			ok++
		case apierrors.ErrDuplicateTransaction:
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, dup)

	history, err := svc.History(ctx, accountID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEntitlementService_Status_FurthestExpiryWins(t *testing.T) {
	ctx := context.Background()
	svc := NewEntitlementService(newMemPurchaseRepo())

	accountID := uuid.New()
	_, err := svc.Grant(ctx, accountID, "txn_month", 0, models.SourceStripe)
	require.NoError(t, err)
	_, err = svc.Grant(ctx, accountID, "txn_year", 1, models.SourceStripe)
	require.NoError(t, err)

	status, err := svc.Status(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, status.Premium)
	assert.Equal(t, 1, *status.Tier)
	assert.True(t, status.ExpiresAt.After(time.Now().Add(300*24*time.Hour)))
}

func TestEntitlementService_Status_NoPurchases(t *testing.T) {
	ctx := context.Background()
	svc := NewEntitlementService(newMemPurchaseRepo())

	status, err := svc.Status(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, status.Premium)
	assert.Nil(t, status.Tier)
	assert.Nil(t, status.ExpiresAt)
}

func TestEntitlementService_RevokeAll_TxnStaysConsumed(t *testing.T) {
	ctx := context.Background()
	svc := NewEntitlementService(newMemPurchaseRepo())

	accountID := uuid.New()
	_, err := svc.Grant(ctx, accountID, "txn_revoked", 2, models.SourceManual)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAll(ctx, accountID))

	status, err := svc.Status(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, status.Premium)

	// Revocation deactivates rows, it does not delete them: a replay of the
	// revoked transaction still cannot re-credit.
	_, err = svc.Grant(ctx, accountID, "txn_revoked", 2, models.SourceManual)
	assert.Equal(t, apierrors.ErrDuplicateTransaction, err)
}

func TestEntitlementService_MarkChargeback(t *testing.T) {
	ctx := context.Background()
	svc := NewEntitlementService(newMemPurchaseRepo())

	accountID := uuid.New()
	_, err := svc.Grant(ctx, accountID, "txn_disputed", 1, models.SourceStripe)
	require.NoError(t, err)

	require.NoError(t, svc.MarkChargeback(ctx, "txn_disputed"))

	status, err := svc.Status(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, status.Premium)

	// Unknown transaction IDs are a no-op, not an error; refund events can
	// arrive for payments that never credited.
	assert.NoError(t, svc.MarkChargeback(ctx, "txn_never_seen"))
}
