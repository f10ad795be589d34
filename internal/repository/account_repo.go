// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lunarlabs/accountd/internal/models"
)

// ErrUniqueViolation is returned when an insert hits a unique constraint.
var ErrUniqueViolation = errors.New("unique constraint violation")

// isUniqueViolation reports whether err is a Postgres 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// AccountRepository defines the interface for account operations.
type AccountRepository interface {
	// Create inserts a new account. Returns ErrUniqueViolation when the
	// username or email is taken.
	Create(ctx context.Context, account *models.Account) error

	// GetByID retrieves an account by ID. Returns (nil, nil) when not found.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)

	// GetByIdentifier retrieves an account whose username or email matches the
	// identifier, case-insensitively. Returns (nil, nil) when not found.
	GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error)

	// GetByEmail retrieves an account by email. Returns (nil, nil) when not found.
	GetByEmail(ctx context.Context, email string) (*models.Account, error)

	// Update persists username, email and password hash changes.
	Update(ctx context.Context, account *models.Account) error

	// UpdatePassword sets a new password hash.
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

type accountRepo struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new account repository.
func NewAccountRepository(pool *pgxpool.Pool) AccountRepository {
	return &accountRepo{pool: pool}
}

const accountColumns = `id, username, email, password_hash, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *accountRepo) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Username = strings.ToLower(account.Username)
	account.Email = strings.ToLower(account.Email)

	err := r.pool.QueryRow(ctx, query,
		account.ID,
		account.Username,
		account.Email,
		account.PasswordHash,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrUniqueViolation
	}
	return err
}

func (r *accountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, id))
}

func (r *accountRepo) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = $1 OR email = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, strings.ToLower(identifier)))
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, strings.ToLower(email)))
}

func (r *accountRepo) Update(ctx context.Context, account *models.Account) error {
	query := `
		UPDATE accounts
		SET username = $2, email = $3, password_hash = $4, updated_at = NOW()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query,
		account.ID,
		strings.ToLower(account.Username),
		strings.ToLower(account.Email),
		account.PasswordHash,
	)
	if isUniqueViolation(err) {
		return ErrUniqueViolation
	}
	return err
}

func (r *accountRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, passwordHash)
	return err
}

// Compile-time check to ensure accountRepo implements AccountRepository.
var _ AccountRepository = (*accountRepo)(nil)
