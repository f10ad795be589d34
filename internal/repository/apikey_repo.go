package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lunarlabs/accountd/internal/models"
)

// APIKeyRepository defines the interface for API key operations.
type APIKeyRepository interface {
	// Create inserts a new key for an account. Returns ErrUniqueViolation when
	// the account already has one.
	Create(ctx context.Context, key *models.APIKey) error

	// GetByAccount retrieves an account's key. Returns (nil, nil) when not found.
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.APIKey, error)

	// GetByKey retrieves a key row by its secret value. Returns (nil, nil)
	// when not found.
	GetByKey(ctx context.Context, key string) (*models.APIKey, error)

	// Replace swaps the account's key for a new one in a single transaction.
	// There is no window in which both or neither key validates.
	Replace(ctx context.Context, accountID uuid.UUID, key *models.APIKey) error

	// BumpUsage records one request against the key: the daily counter resets
	// when the previous request was before today (UTC), then both counters
	// increment. Returns the updated row.
	BumpUsage(ctx context.Context, id uuid.UUID) (*models.APIKey, error)

	// SetDisabled toggles the disabled flag.
	SetDisabled(ctx context.Context, accountID uuid.UUID, disabled bool) error

	// SetQuota changes the daily quota.
	SetQuota(ctx context.Context, accountID uuid.UUID, quota int) error
}

type apiKeyRepo struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository creates a new API key repository.
func NewAPIKeyRepository(pool *pgxpool.Pool) APIKeyRepository {
	return &apiKeyRepo{pool: pool}
}

const apiKeyColumns = `id, account_id, key, daily_quota, requests_today, requests_total, last_request, disabled, created_at`

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(
		&k.ID,
		&k.AccountID,
		&k.Key,
		&k.DailyQuota,
		&k.RequestsToday,
		&k.RequestsTotal,
		&k.LastRequest,
		&k.Disabled,
		&k.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *apiKeyRepo) Create(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (id, account_id, key, daily_quota)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, query,
		key.ID,
		key.AccountID,
		key.Key,
		key.DailyQuota,
	).Scan(&key.CreatedAt)
	if isUniqueViolation(err) {
		return ErrUniqueViolation
	}
	return err
}

func (r *apiKeyRepo) GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE account_id = $1`
	return scanAPIKey(r.pool.QueryRow(ctx, query, accountID))
}

func (r *apiKeyRepo) GetByKey(ctx context.Context, key string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key = $1`
	return scanAPIKey(r.pool.QueryRow(ctx, query, key))
}

func (r *apiKeyRepo) Replace(ctx context.Context, accountID uuid.UUID, key *models.APIKey) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM api_keys WHERE account_id = $1`, accountID); err != nil {
		return err
	}

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	key.AccountID = accountID

	err = tx.QueryRow(ctx, `
		INSERT INTO api_keys (id, account_id, key, daily_quota)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		key.ID, key.AccountID, key.Key, key.DailyQuota,
	).Scan(&key.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *apiKeyRepo) BumpUsage(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	query := `
		UPDATE api_keys
		SET requests_today = CASE
				WHEN last_request IS NULL OR last_request < date_trunc('day', NOW() AT TIME ZONE 'UTC') AT TIME ZONE 'UTC'
				THEN 1
				ELSE requests_today + 1
			END,
			requests_total = requests_total + 1,
			last_request = NOW()
		WHERE id = $1
		RETURNING ` + apiKeyColumns

	return scanAPIKey(r.pool.QueryRow(ctx, query, id))
}

func (r *apiKeyRepo) SetDisabled(ctx context.Context, accountID uuid.UUID, disabled bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET disabled = $2 WHERE account_id = $1`, accountID, disabled)
	return err
}

func (r *apiKeyRepo) SetQuota(ctx context.Context, accountID uuid.UUID, quota int) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET daily_quota = $2 WHERE account_id = $1`, accountID, quota)
	return err
}

// Compile-time check to ensure apiKeyRepo implements APIKeyRepository.
var _ APIKeyRepository = (*apiKeyRepo)(nil)
