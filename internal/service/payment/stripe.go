package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/lunarlabs/accountd/internal/config"
	"github.com/lunarlabs/accountd/internal/models"
	apierrors "github.com/lunarlabs/accountd/internal/pkg/errors"
)

// StripeService handles Stripe checkout and webhook reconciliation.
type StripeService interface {
	// CreateCheckout creates a checkout session for the tier and returns its
	// URL. The account ID rides along as client_reference_id so the webhook
	// can attribute the payment.
	CreateCheckout(ctx context.Context, accountID uuid.UUID, tier int) (string, error)

	// HandleWebhook verifies the event signature and reconciles it against
	// the ledger. A replayed completed-checkout event returns nil: the caller
	// answers 200 and Stripe stops retrying.
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type stripeService struct {
	entitlements Granter
	cfg          *config.StripeConfig
	logger       *slog.Logger
}

// NewStripeService creates a new Stripe payment service.
func NewStripeService(entitlements Granter, cfg *config.StripeConfig, logger *slog.Logger) StripeService {
	stripe.Key = cfg.SecretKey
	return &stripeService{
		entitlements: entitlements,
		cfg:          cfg,
		logger:       logger,
	}
}

func (s *stripeService) CreateCheckout(ctx context.Context, accountID uuid.UUID, tier int) (string, error) {
	t, ok := models.TierByID(tier)
	if !ok {
		return "", apierrors.ErrUnknownTier
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(accountID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(t.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Premium"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.cfg.SuccessURL),
		CancelURL:  stripe.String(s.cfg.CancelURL),
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		s.logger.Error("stripe checkout creation failed", slog.String("error", err.Error()))
		return "", apierrors.ErrServiceUnavailable
	}
	return sess.URL, nil
}

func (s *stripeService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
	if err != nil {
		return apierrors.ErrProviderVerification
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return apierrors.ErrProviderVerification
		}
		return s.handleCheckoutCompleted(ctx, &sess)

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return apierrors.ErrProviderVerification
		}
		if charge.PaymentIntent != nil {
			return s.entitlements.MarkChargeback(ctx, charge.PaymentIntent.ID)
		}
		return nil

	case "charge.dispute.created":
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return apierrors.ErrProviderVerification
		}
		if dispute.PaymentIntent != nil {
			return s.entitlements.MarkChargeback(ctx, dispute.PaymentIntent.ID)
		}
		return nil
	}

	// Unhandled event types are acknowledged so Stripe stops sending them.
	return nil
}

func (s *stripeService) handleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	accountID, err := uuid.Parse(sess.ClientReferenceID)
	if err != nil {
		s.logger.Warn("checkout session without usable client_reference_id",
			slog.String("session_id", sess.ID),
		)
		return apierrors.ErrProviderVerification
	}

	// The tier comes from the amount Stripe says was paid, never from
	// anything the client sent.
	tier, ok := models.TierByAmount(sess.AmountTotal)
	if !ok {
		s.logger.Warn("checkout session with unmapped amount",
			slog.String("session_id", sess.ID),
			slog.Int64("amount_total", sess.AmountTotal),
		)
		return apierrors.ErrProviderVerification
	}

	// Key the grant by payment intent so later refund and dispute events,
	// which carry the payment intent, find the purchase.
	txnID := sess.ID
	if sess.PaymentIntent != nil {
		txnID = sess.PaymentIntent.ID
	}

	_, err = s.entitlements.Grant(ctx, accountID, txnID, tier.ID, models.SourceStripe)
	if errors.Is(err, apierrors.ErrDuplicateTransaction) {
		// Replayed delivery; the first one already credited.
		return nil
	}
	return err
}

// Compile-time check to ensure stripeService implements StripeService.
var _ StripeService = (*stripeService)(nil)
