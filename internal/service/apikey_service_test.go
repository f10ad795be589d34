package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lunarlabs/accountd/internal/models"
	apierrors "github.com/lunarlabs/accountd/internal/pkg/errors"
	"github.com/lunarlabs/accountd/internal/repository"
)

func TestAPIKeyService_GetOrCreate_Existing(t *testing.T) {
	ctx := context.Background()
	apiKeyRepo := new(MockAPIKeyRepository)
	svc := NewAPIKeyService(apiKeyRepo, testAuthConfig())

	accountID := uuid.New()
	existing := &models.APIKey{ID: uuid.New(), AccountID: accountID, Key: "existing-key"}
	apiKeyRepo.On("GetByAccount", ctx, accountID).Return(existing, nil)

	key, err := svc.GetOrCreate(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "existing-key", key.Key)
	apiKeyRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAPIKeyService_GetOrCreate_Lazy(t *testing.T) {
	ctx := context.Background()
	apiKeyRepo := new(MockAPIKeyRepository)
	svc := NewAPIKeyService(apiKeyRepo, testAuthConfig())

	accountID := uuid.New()
	apiKeyRepo.On("GetByAccount", ctx, accountID).Return(nil, nil)
	apiKeyRepo.On("Create", ctx, mock.AnythingOfType("*models.APIKey")).Return(nil)

	key, err := svc.GetOrCreate(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, accountID, key.AccountID)
	assert.Len(t, key.Key, 50)
	assert.Equal(t, 100, key.DailyQuota)
}

func TestAPIKeyService_GetOrCreate_Race(t *testing.T) {
	ctx := context.Background()
	apiKeyRepo := new(MockAPIKeyRepository)
	svc := NewAPIKeyService(apiKeyRepo, testAuthConfig())

	accountID := uuid.New()
	winner := &models.APIKey{ID: uuid.New(), AccountID: accountID, Key: "winner-key"}

	// First lookup misses, the insert loses the race, the second lookup finds
	// the winner's key.
	apiKeyRepo.On("GetByAccount", ctx, accountID).Return(nil, nil).Once()
	apiKeyRepo.On("Create", ctx, mock.AnythingOfType("*models.APIKey")).Return(repository.ErrUniqueViolation)
	apiKeyRepo.On("GetByAccount", ctx, accountID).Return(winner, nil).Once()

	key, err := svc.GetOrCreate(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "winner-key", key.Key)
}

func TestAPIKeyService_Rotate(t *testing.T) {
	ctx := context.Background()
	apiKeyRepo := new(MockAPIKeyRepository)
	svc := NewAPIKeyService(apiKeyRepo, testAuthConfig())

	accountID := uuid.New()
	apiKeyRepo.On("Replace", ctx, accountID, mock.AnythingOfType("*models.APIKey")).Return(nil)

	key, err := svc.Rotate(ctx, accountID)
	require.NoError(t, err)
	assert.Len(t, key.Key, 50)

	again, err := svc.Rotate(ctx, accountID)
	require.NoError(t, err)
	assert.NotEqual(t, key.Key, again.Key)
}

func TestAPIKeyService_Authorize(t *testing.T) {
	ctx := context.Background()
	apiKeyRepo := new(MockAPIKeyRepository)
	svc := NewAPIKeyService(apiKeyRepo, testAuthConfig())

	accountID := uuid.New()
	record := &models.APIKey{ID: uuid.New(), AccountID: accountID, Key: "good-key", DailyQuota: 100}
	apiKeyRepo.On("GetByKey", ctx, "good-key").Return(record, nil)
	apiKeyRepo.On("BumpUsage", ctx, record.ID).Return(&models.APIKey{
		ID:            record.ID,
		AccountID:     accountID,
		DailyQuota:    100,
		RequestsToday: 1,
		RequestsTotal: 41,
	}, nil)

	got, err := svc.Authorize(ctx, "good-key")
	require.NoError(t, err)
	assert.Equal(t, accountID, got)
}

func TestAPIKeyService_Authorize_Unknown(t *testing.T) {
	ctx := context.Background()
	apiKeyRepo := new(MockAPIKeyRepository)
	svc := NewAPIKeyService(apiKeyRepo, testAuthConfig())

	apiKeyRepo.On("GetByKey", ctx, "nope").Return(nil, nil)

	_, err := svc.Authorize(ctx, "nope")
	assert.Equal(t, apierrors.ErrInvalidToken, err)
}

func TestAPIKeyService_Authorize_Disabled(t *testing.T) {
	ctx := context.Background()
	apiKeyRepo := new(MockAPIKeyRepository)
	svc := NewAPIKeyService(apiKeyRepo, testAuthConfig())

	apiKeyRepo.On("GetByKey", ctx, "off").Return(&models.APIKey{
		ID:       uuid.New(),
		Disabled: true,
	}, nil)

	_, err := svc.Authorize(ctx, "off")
	assert.Equal(t, apierrors.ErrInvalidToken, err)
	apiKeyRepo.AssertNotCalled(t, "BumpUsage", mock.Anything, mock.Anything)
}

func TestAPIKeyService_Authorize_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	apiKeyRepo := new(MockAPIKeyRepository)
	svc := NewAPIKeyService(apiKeyRepo, testAuthConfig())

	record := &models.APIKey{ID: uuid.New(), Key: "busy-key", DailyQuota: 100}
	apiKeyRepo.On("GetByKey", ctx, "busy-key").Return(record, nil)
	apiKeyRepo.On("BumpUsage", ctx, record.ID).Return(&models.APIKey{
		ID:            record.ID,
		DailyQuota:    100,
		RequestsToday: 101,
	}, nil)

	_, err := svc.Authorize(ctx, "busy-key")
	assert.Equal(t, apierrors.ErrQuotaExceeded, err)
}

// memAPIKeyRepo is an in-memory APIKeyRepository with the same swap semantics
// as the SQL implementation: one row per account, replaced atomically.
type memAPIKeyRepo struct {
	mu        sync.Mutex
	byAccount map[uuid.UUID]*models.APIKey
}

func newMemAPIKeyRepo() *memAPIKeyRepo {
	return &memAPIKeyRepo{byAccount: make(map[uuid.UUID]*models.APIKey)}
}

func (r *memAPIKeyRepo) Create(ctx context.Context, key *models.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byAccount[key.AccountID]; ok {
		return repository.ErrUniqueViolation
	}
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	key.CreatedAt = time.Now()
	stored := *key
	r.byAccount[key.AccountID] = &stored
	return nil
}

func (r *memAPIKeyRepo) GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byAccount[accountID]
	if !ok {
		return nil, nil
	}
	copied := *key
	return &copied, nil
}

func (r *memAPIKeyRepo) GetByKey(ctx context.Context, secret string) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.byAccount {
		if key.Key == secret {
			copied := *key
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memAPIKeyRepo) Replace(ctx context.Context, accountID uuid.UUID, key *models.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	key.AccountID = accountID
	key.CreatedAt = time.Now()
	stored := *key
	r.byAccount[accountID] = &stored
	return nil
}

func (r *memAPIKeyRepo) BumpUsage(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.byAccount {
		if key.ID != id {
			continue
		}
		now := time.Now().UTC()
		if key.LastRequest == nil || key.LastRequest.UTC().Before(now.Truncate(24*time.Hour)) {
			key.RequestsToday = 1
		} else {
			key.RequestsToday++
		}
		key.RequestsTotal++
		key.LastRequest = &now
		copied := *key
		return &copied, nil
	}
	return nil, nil
}

func (r *memAPIKeyRepo) SetDisabled(ctx context.Context, accountID uuid.UUID, disabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.byAccount[accountID]; ok {
		key.Disabled = disabled
	}
	return nil
}

func (r *memAPIKeyRepo) SetQuota(ctx context.Context, accountID uuid.UUID, quota int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.byAccount[accountID]; ok {
		key.DailyQuota = quota
	}
	return nil
}

var _ repository.APIKeyRepository = (*memAPIKeyRepo)(nil)

func TestAPIKeyService_Rotate_InvalidatesOldKey(t *testing.T) {
	ctx := context.Background()
	svc := NewAPIKeyService(newMemAPIKeyRepo(), testAuthConfig())

	accountID := uuid.New()
	first, err := svc.GetOrCreate(ctx, accountID)
	require.NoError(t, err)

	got, err := svc.Authorize(ctx, first.Key)
	require.NoError(t, err)
	assert.Equal(t, accountID, got)

	rotated, err := svc.Rotate(ctx, accountID)
	require.NoError(t, err)
	require.NotEqual(t, first.Key, rotated.Key)

	// The old key stops validating the moment the swap lands.
	_, err = svc.Authorize(ctx, first.Key)
	assert.Equal(t, apierrors.ErrInvalidToken, err)

	got, err = svc.Authorize(ctx, rotated.Key)
	require.NoError(t, err)
	assert.Equal(t, accountID, got)
}

func TestAPIKeyService_SetQuota_Validation(t *testing.T) {
	ctx := context.Background()
	apiKeyRepo := new(MockAPIKeyRepository)
	svc := NewAPIKeyService(apiKeyRepo, testAuthConfig())

	assert.Error(t, svc.SetQuota(ctx, uuid.New(), 0))
	assert.Error(t, svc.SetQuota(ctx, uuid.New(), -5))
	apiKeyRepo.AssertNotCalled(t, "SetQuota", mock.Anything, mock.Anything, mock.Anything)
}
