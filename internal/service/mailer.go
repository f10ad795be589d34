package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/lunarlabs/accountd/internal/config"
)

// Mailer delivers password reset mail.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, resetURL string) error
}

// MailgunMailer sends mail through Mailgun.
type MailgunMailer struct {
	mg     mailgun.Mailgun
	sender string
}

// NewMailgunMailer creates a Mailgun-backed mailer.
func NewMailgunMailer(cfg *config.MailgunConfig) *MailgunMailer {
	return &MailgunMailer{
		mg:     mailgun.NewMailgun(cfg.Domain, cfg.APIKey),
		sender: cfg.Sender,
	}
}

// SendPasswordReset sends the reset link.
func (m *MailgunMailer) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	body := fmt.Sprintf(
		"A password reset was requested for your account.\n\n"+
			"Reset your password here: %s\n\n"+
			"The link expires in 30 minutes. If you did not request this, ignore this email.",
		resetURL,
	)
	msg := m.mg.NewMessage(m.sender, "Password reset", body, email)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, _, err := m.mg.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send reset email: %w", err)
	}
	return nil
}

var _ Mailer = (*MailgunMailer)(nil)
