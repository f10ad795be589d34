package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lunarlabs/accountd/internal/models"
)

// ResetRepository defines the interface for password reset token operations.
type ResetRepository interface {
	// Create inserts a new reset token.
	Create(ctx context.Context, reset *models.PasswordReset) error

	// Consume deletes the token and returns the row it held. Delete-and-return
	// in one statement makes the token single-use: a replay finds nothing and
	// is indistinguishable from an unknown token. Returns (nil, nil) when the
	// token does not exist. The caller checks the creation window.
	Consume(ctx context.Context, token string) (*models.PasswordReset, error)
}

type resetRepo struct {
	pool *pgxpool.Pool
}

// NewResetRepository creates a new password reset repository.
func NewResetRepository(pool *pgxpool.Pool) ResetRepository {
	return &resetRepo{pool: pool}
}

func (r *resetRepo) Create(ctx context.Context, reset *models.PasswordReset) error {
	query := `
		INSERT INTO password_resets (token, account_id)
		VALUES ($1, $2)
		RETURNING created_at`

	return r.pool.QueryRow(ctx, query, reset.Token, reset.AccountID).Scan(&reset.CreatedAt)
}

func (r *resetRepo) Consume(ctx context.Context, token string) (*models.PasswordReset, error) {
	query := `
		DELETE FROM password_resets
		WHERE token = $1
		RETURNING token, account_id, created_at`

	var reset models.PasswordReset
	err := r.pool.QueryRow(ctx, query, token).Scan(&reset.Token, &reset.AccountID, &reset.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reset, nil
}

// Compile-time check to ensure resetRepo implements ResetRepository.
var _ ResetRepository = (*resetRepo)(nil)
