// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/nbutton23/zxcvbn-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/lunarlabs/accountd/internal/config"
	"github.com/lunarlabs/accountd/internal/models"
	apierrors "github.com/lunarlabs/accountd/internal/pkg/errors"
	"github.com/lunarlabs/accountd/internal/pkg/token"
	"github.com/lunarlabs/accountd/internal/repository"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// A well-formed bcrypt hash compared against when the login identifier is
// unknown, so both failure branches cost one bcrypt verification.
const dummyPasswordHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// RegisterRequest carries the inputs for account creation.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// UpdateProfileRequest carries profile changes. Nil fields are left unchanged.
// CurrentPassword must verify regardless of which fields change.
type UpdateProfileRequest struct {
	Username        *string
	Email           *string
	NewPassword     *string
	CurrentPassword string
}

// SessionMeta describes the request that created a session.
type SessionMeta struct {
	IP        string
	UserAgent string
}

// AuthService defines account and session operations.
type AuthService interface {
	// Register creates an account and eagerly provisions its API key.
	Register(ctx context.Context, req RegisterRequest) (*models.Account, error)

	// Login verifies credentials against a username or email and creates a
	// session. Every credential failure returns ErrInvalidCredentials.
	Login(ctx context.Context, identifier, password string, meta SessionMeta) (*models.Account, *models.Session, error)

	// Resolve validates a session token, sliding its expiry forward.
	Resolve(ctx context.Context, sessionToken string) (*models.Session, error)

	// Logout revokes a session.
	Logout(ctx context.Context, sessionToken string) error

	// Sessions lists an account's live sessions.
	Sessions(ctx context.Context, accountID uuid.UUID) ([]*models.Session, error)

	// RevokeOthers revokes every session of the account except the given one.
	RevokeOthers(ctx context.Context, accountID uuid.UUID, keepToken string) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)

	// UpdateProfile applies profile changes after verifying the current password.
	UpdateProfile(ctx context.Context, accountID uuid.UUID, req UpdateProfileRequest) (*models.Account, error)
}

type authService struct {
	accountRepo repository.AccountRepository
	sessionRepo repository.SessionRepository
	apiKeyRepo  repository.APIKeyRepository
	cfg         *config.AuthConfig
}

// NewAuthService creates a new auth service.
func NewAuthService(
	accountRepo repository.AccountRepository,
	sessionRepo repository.SessionRepository,
	apiKeyRepo repository.APIKeyRepository,
	cfg *config.AuthConfig,
) AuthService {
	return &authService{
		accountRepo: accountRepo,
		sessionRepo: sessionRepo,
		apiKeyRepo:  apiKeyRepo,
		cfg:         cfg,
	}
}

// ValidatePassword enforces the strength policy: zxcvbn score above 2, with
// the account's own identifiers counted against it.
func ValidatePassword(password string, userInputs ...string) error {
	if password == "" {
		return apierrors.NewValidationError("password", "password is required")
	}
	strength := zxcvbn.PasswordStrength(password, userInputs)
	if strength.Score <= 2 {
		return apierrors.NewValidationError("password", "password is too weak")
	}
	return nil
}

func (s *authService) Register(ctx context.Context, req RegisterRequest) (*models.Account, error) {
	if req.Username == "" {
		return nil, apierrors.NewValidationError("username", "username is required")
	}
	if !emailPattern.MatchString(req.Email) {
		return nil, apierrors.NewValidationError("email", "invalid email address")
	}
	if err := ValidatePassword(req.Password, req.Username, req.Email); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost())
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, apierrors.NewConflictError("Username or email is already taken")
		}
		return nil, err
	}

	// Eagerly provision the API key. Failure here is not fatal; the key is
	// lazily created on first access.
	if key, err := token.NewAPIKey(); err == nil {
		_ = s.apiKeyRepo.Create(ctx, &models.APIKey{
			AccountID:  account.ID,
			Key:        key,
			DailyQuota: s.defaultQuota(),
		})
	}

	return account, nil
}

func (s *authService) Login(ctx context.Context, identifier, password string, meta SessionMeta) (*models.Account, *models.Session, error) {
	account, err := s.accountRepo.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, nil, apierrors.ErrServiceUnavailable
	}
	if account == nil {
		// Burn a bcrypt verification so an unknown identifier costs the same
		// as a wrong password.
		_ = bcrypt.CompareHashAndPassword([]byte(dummyPasswordHash), []byte(password))
		return nil, nil, apierrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, nil, apierrors.ErrInvalidCredentials
	}

	session, err := s.createSession(ctx, account.ID, meta)
	if err != nil {
		return nil, nil, err
	}
	return account, session, nil
}

func (s *authService) Resolve(ctx context.Context, sessionToken string) (*models.Session, error) {
	session, err := s.sessionRepo.Touch(ctx, sessionToken, s.sessionExpiry())
	if err != nil {
		return nil, apierrors.ErrServiceUnavailable
	}
	if session == nil {
		return nil, apierrors.ErrInvalidToken
	}
	return session, nil
}

func (s *authService) Logout(ctx context.Context, sessionToken string) error {
	return s.sessionRepo.Delete(ctx, sessionToken)
}

func (s *authService) Sessions(ctx context.Context, accountID uuid.UUID) ([]*models.Session, error) {
	return s.sessionRepo.ListByAccount(ctx, accountID)
}

func (s *authService) RevokeOthers(ctx context.Context, accountID uuid.UUID, keepToken string) error {
	return s.sessionRepo.DeleteByAccount(ctx, accountID, keepToken)
}

func (s *authService) GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apierrors.NewNotFoundError("Account")
	}
	return account, nil
}

func (s *authService) UpdateProfile(ctx context.Context, accountID uuid.UUID, req UpdateProfileRequest) (*models.Account, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return nil, apierrors.ErrInvalidCredentials
	}

	if req.Username != nil {
		if *req.Username == "" {
			return nil, apierrors.NewValidationError("username", "username is required")
		}
		account.Username = *req.Username
	}
	if req.Email != nil {
		if !emailPattern.MatchString(*req.Email) {
			return nil, apierrors.NewValidationError("email", "invalid email address")
		}
		account.Email = *req.Email
	}
	if req.NewPassword != nil {
		if err := ValidatePassword(*req.NewPassword, account.Username, account.Email); err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.NewPassword), s.bcryptCost())
		if err != nil {
			return nil, err
		}
		account.PasswordHash = string(hash)
	}

	if err := s.accountRepo.Update(ctx, account); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, apierrors.NewConflictError("Username or email is already taken")
		}
		return nil, err
	}
	return account, nil
}

func (s *authService) createSession(ctx context.Context, accountID uuid.UUID, meta SessionMeta) (*models.Session, error) {
	t, err := token.NewSession()
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		Token:     t,
		AccountID: accountID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		ExpiresAt: time.Now().Add(s.sessionExpiry()),
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *authService) bcryptCost() int {
	if s.cfg != nil && s.cfg.BcryptCost >= bcrypt.MinCost {
		return s.cfg.BcryptCost
	}
	return 12
}

func (s *authService) defaultQuota() int {
	if s.cfg != nil && s.cfg.DefaultDailyQuota > 0 {
		return s.cfg.DefaultDailyQuota
	}
	return 100
}

func (s *authService) sessionExpiry() time.Duration {
	if s.cfg != nil && s.cfg.SessionExpiry > 0 {
		return s.cfg.SessionExpiry
	}
	return 30 * 24 * time.Hour
}

// Compile-time check to ensure authService implements AuthService.
var _ AuthService = (*authService)(nil)
