package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/lunarlabs/accountd/internal/config"
	"github.com/lunarlabs/accountd/internal/models"
	apierrors "github.com/lunarlabs/accountd/internal/pkg/errors"
	"github.com/lunarlabs/accountd/internal/pkg/token"
	"github.com/lunarlabs/accountd/internal/repository"
)

// APIKeyService defines API key operations.
type APIKeyService interface {
	// GetOrCreate returns the account's key, provisioning one lazily for
	// accounts that predate eager provisioning.
	GetOrCreate(ctx context.Context, accountID uuid.UUID) (*models.APIKey, error)

	// Rotate replaces the account's key. The swap is transactional: the old
	// key stops validating exactly when the new one starts.
	Rotate(ctx context.Context, accountID uuid.UUID) (*models.APIKey, error)

	// Authorize validates a key for one request, enforcing the daily quota.
	// Returns the owning account ID.
	Authorize(ctx context.Context, key string) (uuid.UUID, error)

	// SetDisabled toggles an account's key (admin operation).
	SetDisabled(ctx context.Context, accountID uuid.UUID, disabled bool) error

	// SetQuota changes an account's daily quota (admin operation).
	SetQuota(ctx context.Context, accountID uuid.UUID, quota int) error
}

type apiKeyService struct {
	apiKeyRepo repository.APIKeyRepository
	cfg        *config.AuthConfig
}

// NewAPIKeyService creates a new API key service.
func NewAPIKeyService(apiKeyRepo repository.APIKeyRepository, cfg *config.AuthConfig) APIKeyService {
	return &apiKeyService{apiKeyRepo: apiKeyRepo, cfg: cfg}
}

func (s *apiKeyService) GetOrCreate(ctx context.Context, accountID uuid.UUID) (*models.APIKey, error) {
	key, err := s.apiKeyRepo.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}

	secret, err := token.NewAPIKey()
	if err != nil {
		return nil, err
	}
	key = &models.APIKey{
		AccountID:  accountID,
		Key:        secret,
		DailyQuota: s.defaultQuota(),
	}
	if err := s.apiKeyRepo.Create(ctx, key); err != nil {
		if err == repository.ErrUniqueViolation {
			// Lost a race with another request; use the winner's key.
			return s.apiKeyRepo.GetByAccount(ctx, accountID)
		}
		return nil, err
	}
	return key, nil
}

func (s *apiKeyService) Rotate(ctx context.Context, accountID uuid.UUID) (*models.APIKey, error) {
	secret, err := token.NewAPIKey()
	if err != nil {
		return nil, err
	}
	key := &models.APIKey{
		AccountID:  accountID,
		Key:        secret,
		DailyQuota: s.defaultQuota(),
	}
	if err := s.apiKeyRepo.Replace(ctx, accountID, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *apiKeyService) Authorize(ctx context.Context, key string) (uuid.UUID, error) {
	record, err := s.apiKeyRepo.GetByKey(ctx, key)
	if err != nil {
		return uuid.Nil, apierrors.ErrServiceUnavailable
	}
	if record == nil || record.Disabled {
		return uuid.Nil, apierrors.ErrInvalidToken
	}

	updated, err := s.apiKeyRepo.BumpUsage(ctx, record.ID)
	if err != nil {
		return uuid.Nil, apierrors.ErrServiceUnavailable
	}
	if updated == nil {
		// Rotated away between lookup and bump.
		return uuid.Nil, apierrors.ErrInvalidToken
	}
	if updated.RequestsToday > updated.DailyQuota {
		return uuid.Nil, apierrors.ErrQuotaExceeded
	}
	return updated.AccountID, nil
}

func (s *apiKeyService) SetDisabled(ctx context.Context, accountID uuid.UUID, disabled bool) error {
	return s.apiKeyRepo.SetDisabled(ctx, accountID, disabled)
}

func (s *apiKeyService) SetQuota(ctx context.Context, accountID uuid.UUID, quota int) error {
	if quota < 1 {
		return apierrors.NewValidationError("quota", "quota must be positive")
	}
	return s.apiKeyRepo.SetQuota(ctx, accountID, quota)
}

func (s *apiKeyService) defaultQuota() int {
	if s.cfg != nil && s.cfg.DefaultDailyQuota > 0 {
		return s.cfg.DefaultDailyQuota
	}
	return 100
}

// Compile-time check to ensure apiKeyService implements APIKeyService.
var _ APIKeyService = (*apiKeyService)(nil)
