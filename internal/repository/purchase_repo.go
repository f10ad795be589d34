package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lunarlabs/accountd/internal/models"
)

// ErrDuplicateTxn is returned when a transaction ID has already been recorded.
var ErrDuplicateTxn = errors.New("transaction id already recorded")

// PurchaseRepository defines the interface for the entitlement ledger.
type PurchaseRepository interface {
	// Insert records a purchase. The unique index on txn_id makes this the
	// exactly-once gate: under concurrent inserts with the same txn_id exactly
	// one succeeds and the rest get ErrDuplicateTxn.
	Insert(ctx context.Context, purchase *models.Purchase) error

	// ListActive returns the account's purchases that currently confer
	// premium, furthest expiry first.
	ListActive(ctx context.Context, accountID uuid.UUID) ([]*models.Purchase, error)

	// ListByAccount returns the account's full ledger, newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Purchase, error)

	// DeactivateByAccount marks all of an account's purchases inactive. Rows
	// are never deleted; their txn_ids stay consumed.
	DeactivateByAccount(ctx context.Context, accountID uuid.UUID) error

	// MarkChargeback flags the purchase with the given txn_id. Returns the
	// number of rows touched.
	MarkChargeback(ctx context.Context, txnID string) (int64, error)
}

type purchaseRepo struct {
	pool *pgxpool.Pool
}

// NewPurchaseRepository creates a new purchase repository.
func NewPurchaseRepository(pool *pgxpool.Pool) PurchaseRepository {
	return &purchaseRepo{pool: pool}
}

const purchaseColumns = `id, account_id, txn_id, tier, source, active, chargebacked, expires_at, created_at`

func (r *purchaseRepo) Insert(ctx context.Context, purchase *models.Purchase) error {
	query := `
		INSERT INTO purchases (id, account_id, txn_id, tier, source, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING active, chargebacked, created_at`

	if purchase.ID == uuid.Nil {
		purchase.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, query,
		purchase.ID,
		purchase.AccountID,
		purchase.TxnID,
		purchase.Tier,
		purchase.Source,
		purchase.ExpiresAt,
	).Scan(&purchase.Active, &purchase.Chargebacked, &purchase.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateTxn
	}
	return err
}

func (r *purchaseRepo) ListActive(ctx context.Context, accountID uuid.UUID) ([]*models.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE account_id = $1 AND active AND NOT chargebacked AND expires_at > NOW()
		ORDER BY expires_at DESC`

	return r.list(ctx, query, accountID)
}

func (r *purchaseRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE account_id = $1
		ORDER BY created_at DESC`

	return r.list(ctx, query, accountID)
}

func (r *purchaseRepo) list(ctx context.Context, query string, accountID uuid.UUID) ([]*models.Purchase, error) {
	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []*models.Purchase
	for rows.Next() {
		var p models.Purchase
		if err := rows.Scan(
			&p.ID,
			&p.AccountID,
			&p.TxnID,
			&p.Tier,
			&p.Source,
			&p.Active,
			&p.Chargebacked,
			&p.ExpiresAt,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		purchases = append(purchases, &p)
	}
	return purchases, rows.Err()
}

func (r *purchaseRepo) DeactivateByAccount(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE purchases SET active = FALSE WHERE account_id = $1`, accountID)
	return err
}

func (r *purchaseRepo) MarkChargeback(ctx context.Context, txnID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE purchases SET chargebacked = TRUE WHERE txn_id = $1`, txnID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Compile-time check to ensure purchaseRepo implements PurchaseRepository.
var _ PurchaseRepository = (*purchaseRepo)(nil)
