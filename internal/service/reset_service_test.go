package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lunarlabs/accountd/internal/config"
	"github.com/lunarlabs/accountd/internal/models"
	apierrors "github.com/lunarlabs/accountd/internal/pkg/errors"
)

func newResetFixture() (*MockAccountRepository, *MockResetRepository, *MockSessionRepository, *MockMailer, ResetService) {
	accountRepo := new(MockAccountRepository)
	resetRepo := new(MockResetRepository)
	sessionRepo := new(MockSessionRepository)
	mailer := new(MockMailer)
	svc := NewResetService(accountRepo, resetRepo, sessionRepo, mailer,
		&config.AuthConfig{ResetTokenExpiry: 30 * time.Minute, BcryptCost: bcrypt.MinCost},
		&config.MailgunConfig{ResetURL: "https://example.com/reset?token="},
		slog.Default(),
	)
	return accountRepo, resetRepo, sessionRepo, mailer, svc
}

func TestResetService_Request(t *testing.T) {
	ctx := context.Background()
	accountRepo, resetRepo, _, mailer, svc := newResetFixture()

	account := &models.Account{ID: uuid.New(), Email: "frieda@example.com"}
	accountRepo.On("GetByEmail", ctx, "frieda@example.com").Return(account, nil)
	resetRepo.On("Create", ctx, mock.AnythingOfType("*models.PasswordReset")).Return(nil)
	mailer.On("SendPasswordReset", ctx, "frieda@example.com", mock.AnythingOfType("string")).Return(nil)

	require.NoError(t, svc.Request(ctx, "frieda@example.com"))

	reset := resetRepo.Calls[0].Arguments.Get(1).(*models.PasswordReset)
	assert.Equal(t, account.ID, reset.AccountID)
	assert.NotEmpty(t, reset.Token)

	// The mailed link carries the stored token.
	mailedURL := mailer.Calls[0].Arguments.String(2)
	assert.True(t, strings.HasSuffix(mailedURL, reset.Token))
}

func TestResetService_Request_UnknownEmail(t *testing.T) {
	ctx := context.Background()
	accountRepo, resetRepo, _, mailer, svc := newResetFixture()

	accountRepo.On("GetByEmail", ctx, "ghost@example.com").Return(nil, nil)

	// Same nil result as the registered case; nothing stored, nothing mailed.
	require.NoError(t, svc.Request(ctx, "ghost@example.com"))
	resetRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	mailer.AssertNotCalled(t, "SendPasswordReset", mock.Anything, mock.Anything, mock.Anything)
}

func TestResetService_Request_MailFailureHidden(t *testing.T) {
	ctx := context.Background()
	accountRepo, resetRepo, _, mailer, svc := newResetFixture()

	accountRepo.On("GetByEmail", ctx, "frieda@example.com").Return(&models.Account{ID: uuid.New(), Email: "frieda@example.com"}, nil)
	resetRepo.On("Create", ctx, mock.AnythingOfType("*models.PasswordReset")).Return(nil)
	mailer.On("SendPasswordReset", ctx, mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	// Delivery failures must not leak which emails are registered.
	assert.NoError(t, svc.Request(ctx, "frieda@example.com"))
}

func TestResetService_Finalize(t *testing.T) {
	ctx := context.Background()
	accountRepo, resetRepo, sessionRepo, _, svc := newResetFixture()

	accountID := uuid.New()
	resetRepo.On("Consume", ctx, "tok").Return(&models.PasswordReset{
		Token:     "tok",
		AccountID: accountID,
		CreatedAt: time.Now().Add(-5 * time.Minute),
	}, nil)
	accountRepo.On("GetByID", ctx, accountID).Return(&models.Account{ID: accountID}, nil)
	accountRepo.On("UpdatePassword", ctx, accountID, mock.AnythingOfType("string")).Return(nil)
	sessionRepo.On("DeleteByAccount", ctx, accountID, "").Return(nil)

	require.NoError(t, svc.Finalize(ctx, "tok", strongPassword))

	// The stored hash verifies against the new password.
	hash := accountRepo.Calls[1].Arguments.String(2)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(strongPassword)))

	// Every session goes; the old password may have leaked.
	sessionRepo.AssertCalled(t, "DeleteByAccount", ctx, accountID, "")
}

func TestResetService_Finalize_UnknownToken(t *testing.T) {
	ctx := context.Background()
	_, resetRepo, _, _, svc := newResetFixture()

	resetRepo.On("Consume", ctx, "nope").Return(nil, nil)

	err := svc.Finalize(ctx, "nope", strongPassword)
	assert.Equal(t, apierrors.ErrInvalidToken, err)
}

func TestResetService_Finalize_ExpiredToken(t *testing.T) {
	ctx := context.Background()
	accountRepo, resetRepo, _, _, svc := newResetFixture()

	resetRepo.On("Consume", ctx, "old").Return(&models.PasswordReset{
		Token:     "old",
		AccountID: uuid.New(),
		CreatedAt: time.Now().Add(-31 * time.Minute),
	}, nil)

	err := svc.Finalize(ctx, "old", strongPassword)
	assert.Equal(t, apierrors.ErrInvalidToken, err)
	accountRepo.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
}

func TestResetService_Finalize_WeakPasswordKeepsToken(t *testing.T) {
	ctx := context.Background()
	_, resetRepo, _, _, svc := newResetFixture()

	// The strength check runs first; a weak password must not burn the
	// single-use token.
	err := svc.Finalize(ctx, "tok", "password1")
	require.Error(t, err)
	resetRepo.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything)
}
