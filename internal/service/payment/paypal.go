package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/lunarlabs/accountd/internal/config"
	"github.com/lunarlabs/accountd/internal/models"
	apierrors "github.com/lunarlabs/accountd/internal/pkg/errors"
)

// Order is a created PayPal order awaiting buyer approval.
type Order struct {
	ID         string `json:"id"`
	ApproveURL string `json:"approve_url"`
}

// PayPalService handles PayPal order creation and capture.
type PayPalService interface {
	// CreateOrder creates an order priced from the tier table.
	CreateOrder(ctx context.Context, tier int) (*Order, error)

	// CaptureOrder captures an approved order, verifies the captured amount
	// and currency server-side, and credits the ledger. A re-captured order
	// surfaces ErrDuplicateTransaction from the ledger.
	CaptureOrder(ctx context.Context, accountID uuid.UUID, orderID string) (*models.Purchase, error)
}

// HTTPClient interface for making HTTP requests (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type paypalService struct {
	entitlements Granter
	baseURL      string
	// tokenSource caches the client-credentials access token and refreshes it
	// under its own short-held lock; reading a cached token does no network
	// I/O, and no request handler ever holds a lock across a PayPal call.
	tokenSource oauth2.TokenSource
	httpClient  HTTPClient
	logger      *slog.Logger
}

// NewPayPalService creates a new PayPal payment service.
func NewPayPalService(entitlements Granter, cfg *config.PayPalConfig, logger *slog.Logger) PayPalService {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.BaseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return &paypalService{
		entitlements: entitlements,
		baseURL:      cfg.BaseURL,
		tokenSource:  cc.TokenSource(context.Background()),
		httpClient:   http.DefaultClient,
		logger:       logger,
	}
}

// NewPayPalServiceWithClient creates a PayPal service with a custom HTTP
// client and token source. This is primarily used for testing.
func NewPayPalServiceWithClient(entitlements Granter, cfg *config.PayPalConfig, logger *slog.Logger, httpClient HTTPClient, ts oauth2.TokenSource) PayPalService {
	svc := NewPayPalService(entitlements, cfg, logger).(*paypalService)
	svc.httpClient = httpClient
	if ts != nil {
		svc.tokenSource = ts
	}
	return svc
}

func (s *paypalService) CreateOrder(ctx context.Context, tier int) (*Order, error) {
	t, ok := models.TierByID(tier)
	if !ok {
		return nil, apierrors.ErrUnknownTier
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"amount": map[string]string{
					"currency_code": "USD",
					"value":         formatCents(t.PriceCents),
				},
			},
		},
	}

	var created struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := s.post(ctx, "/v2/checkout/orders", body, &created); err != nil {
		return nil, err
	}

	order := &Order{ID: created.ID}
	for _, link := range created.Links {
		if link.Rel == "approve" {
			order.ApproveURL = link.Href
		}
	}
	return order, nil
}

func (s *paypalService) CaptureOrder(ctx context.Context, accountID uuid.UUID, orderID string) (*models.Purchase, error) {
	var captured struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
					Amount struct {
						CurrencyCode string `json:"currency_code"`
						Value        string `json:"value"`
					} `json:"amount"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if err := s.post(ctx, "/v2/checkout/orders/"+orderID+"/capture", map[string]any{}, &captured); err != nil {
		return nil, err
	}

	if captured.Status != "COMPLETED" {
		return nil, apierrors.ErrProviderVerification
	}
	if len(captured.PurchaseUnits) == 0 || len(captured.PurchaseUnits[0].Payments.Captures) == 0 {
		return nil, apierrors.ErrProviderVerification
	}

	capture := captured.PurchaseUnits[0].Payments.Captures[0]
	if capture.Status != "COMPLETED" || capture.Amount.CurrencyCode != "USD" {
		return nil, apierrors.ErrProviderVerification
	}

	// Cross-check what PayPal says was captured against the tier table; the
	// client's claimed tier plays no part.
	cents, err := parseCents(capture.Amount.Value)
	if err != nil {
		return nil, apierrors.ErrProviderVerification
	}
	tier, ok := models.TierByAmount(cents)
	if !ok {
		s.logger.Warn("paypal capture with unmapped amount",
			slog.String("order_id", orderID),
			slog.String("amount", capture.Amount.Value),
		)
		return nil, apierrors.ErrProviderVerification
	}

	return s.entitlements.Grant(ctx, accountID, capture.ID, tier.ID, models.SourcePayPal)
}

// post sends an authenticated JSON request to the PayPal API. The access
// token is read from the cached source before the request goes out.
func (s *paypalService) post(ctx context.Context, path string, body, out any) error {
	tok, err := s.tokenSource.Token()
	if err != nil {
		s.logger.Error("paypal token fetch failed", slog.String("error", err.Error()))
		return apierrors.ErrServiceUnavailable
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tok.SetAuthHeader(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("paypal request failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return apierrors.ErrServiceUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apierrors.ErrServiceUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apierrors.ErrProviderVerification.WithDetails(
			fmt.Sprintf("paypal returned status %d", resp.StatusCode),
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierrors.ErrProviderVerification
	}
	return nil
}

// Compile-time check to ensure paypalService implements PayPalService.
var _ PayPalService = (*paypalService)(nil)
