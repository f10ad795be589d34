package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lunarlabs/accountd/internal/config"
	"github.com/lunarlabs/accountd/internal/models"
	apierrors "github.com/lunarlabs/accountd/internal/pkg/errors"
	"github.com/lunarlabs/accountd/internal/pkg/token"
	"github.com/lunarlabs/accountd/internal/repository"
)

// ResetService defines password reset operations.
type ResetService interface {
	// Request stores a reset token and mails it when the email belongs to an
	// account. The caller always gets the same nil result either way, so the
	// endpoint never reveals whether an email is registered.
	Request(ctx context.Context, email string) error

	// Finalize consumes the token and sets the new password. The token is
	// single-use and valid for the configured window; replayed, expired and
	// unknown tokens all yield ErrInvalidToken. All other sessions of the
	// account are revoked.
	Finalize(ctx context.Context, resetToken, newPassword string) error
}

type resetService struct {
	accountRepo repository.AccountRepository
	resetRepo   repository.ResetRepository
	sessionRepo repository.SessionRepository
	mailer      Mailer
	resetURL    string
	window      time.Duration
	bcryptCost  int
	logger      *slog.Logger
}

// NewResetService creates a new password reset service.
func NewResetService(
	accountRepo repository.AccountRepository,
	resetRepo repository.ResetRepository,
	sessionRepo repository.SessionRepository,
	mailer Mailer,
	authCfg *config.AuthConfig,
	mailCfg *config.MailgunConfig,
	logger *slog.Logger,
) ResetService {
	window := 30 * time.Minute
	if authCfg != nil && authCfg.ResetTokenExpiry > 0 {
		window = authCfg.ResetTokenExpiry
	}
	cost := 12
	if authCfg != nil && authCfg.BcryptCost >= bcrypt.MinCost {
		cost = authCfg.BcryptCost
	}
	resetURL := ""
	if mailCfg != nil {
		resetURL = mailCfg.ResetURL
	}
	return &resetService{
		accountRepo: accountRepo,
		resetRepo:   resetRepo,
		sessionRepo: sessionRepo,
		mailer:      mailer,
		resetURL:    resetURL,
		window:      window,
		bcryptCost:  cost,
		logger:      logger,
	}
}

func (s *resetService) Request(ctx context.Context, email string) error {
	account, err := s.accountRepo.GetByEmail(ctx, email)
	if err != nil {
		return apierrors.ErrServiceUnavailable
	}
	if account == nil {
		// Same outcome as the registered case.
		return nil
	}

	t, err := token.NewReset()
	if err != nil {
		return err
	}
	if err := s.resetRepo.Create(ctx, &models.PasswordReset{
		Token:     t,
		AccountID: account.ID,
	}); err != nil {
		return apierrors.ErrServiceUnavailable
	}

	if err := s.mailer.SendPasswordReset(ctx, account.Email, s.resetURL+t); err != nil {
		// The caller still gets the generic success; leaking mail failures
		// would reveal which emails are registered.
		s.logger.Error("reset mail delivery failed", slog.String("error", err.Error()))
	}
	return nil
}

func (s *resetService) Finalize(ctx context.Context, resetToken, newPassword string) error {
	// Strength is checked before the consume so a weak password does not burn
	// the single-use token.
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	reset, err := s.resetRepo.Consume(ctx, resetToken)
	if err != nil {
		return apierrors.ErrServiceUnavailable
	}
	if reset == nil || time.Since(reset.CreatedAt) > s.window {
		return apierrors.ErrInvalidToken
	}

	account, err := s.accountRepo.GetByID(ctx, reset.AccountID)
	if err != nil {
		return apierrors.ErrServiceUnavailable
	}
	if account == nil {
		return apierrors.ErrInvalidToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.accountRepo.UpdatePassword(ctx, account.ID, string(hash)); err != nil {
		return apierrors.ErrServiceUnavailable
	}

	// A reset usually means the old password leaked; sign everything out.
	_ = s.sessionRepo.DeleteByAccount(ctx, account.ID, "")
	return nil
}

// Compile-time check to ensure resetService implements ResetService.
var _ ResetService = (*resetService)(nil)
