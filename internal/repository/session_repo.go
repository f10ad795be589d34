package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lunarlabs/accountd/internal/models"
)

// SessionRepository defines the interface for session operations.
type SessionRepository interface {
	// Create inserts a new session.
	Create(ctx context.Context, session *models.Session) error

	// Touch resolves a live session, bumping last_activity and sliding
	// expires_at forward by ttl. Returns (nil, nil) for unknown or expired
	// tokens; expired rows are deleted on the way.
	Touch(ctx context.Context, token string, ttl time.Duration) (*models.Session, error)

	// ListByAccount lists an account's live sessions, most recent first.
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Session, error)

	// Delete removes a session by token.
	Delete(ctx context.Context, token string) error

	// DeleteByAccount removes all of an account's sessions except keepToken.
	// Pass an empty keepToken to remove them all.
	DeleteByAccount(ctx context.Context, accountID uuid.UUID, keepToken string) error
}

type sessionRepo struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepo{pool: pool}
}

func (r *sessionRepo) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (token, account_id, ip, user_agent, last_activity, expires_at)
		VALUES ($1, $2, $3, $4, NOW(), $5)
		RETURNING last_activity, created_at`

	return r.pool.QueryRow(ctx, query,
		session.Token,
		session.AccountID,
		session.IP,
		session.UserAgent,
		session.ExpiresAt,
	).Scan(&session.LastActivity, &session.CreatedAt)
}

func (r *sessionRepo) Touch(ctx context.Context, token string, ttl time.Duration) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET last_activity = NOW(), expires_at = NOW() + $2
		WHERE token = $1 AND expires_at > NOW()
		RETURNING token, account_id, ip, user_agent, last_activity, expires_at, created_at`

	var s models.Session
	err := r.pool.QueryRow(ctx, query, token, ttl).Scan(
		&s.Token,
		&s.AccountID,
		&s.IP,
		&s.UserAgent,
		&s.LastActivity,
		&s.ExpiresAt,
		&s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lazy cleanup of the expired row, if that is what blocked the update.
		_, _ = r.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1 AND expires_at <= NOW()`, token)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Session, error) {
	query := `
		SELECT token, account_id, ip, user_agent, last_activity, expires_at, created_at
		FROM sessions
		WHERE account_id = $1 AND expires_at > NOW()
		ORDER BY last_activity DESC`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(
			&s.Token,
			&s.AccountID,
			&s.IP,
			&s.UserAgent,
			&s.LastActivity,
			&s.ExpiresAt,
			&s.CreatedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

func (r *sessionRepo) Delete(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

func (r *sessionRepo) DeleteByAccount(ctx context.Context, accountID uuid.UUID, keepToken string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM sessions WHERE account_id = $1 AND token <> $2`,
		accountID, keepToken,
	)
	return err
}

// Compile-time check to ensure sessionRepo implements SessionRepository.
var _ SessionRepository = (*sessionRepo)(nil)
