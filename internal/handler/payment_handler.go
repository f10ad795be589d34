package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lunarlabs/accountd/internal/middleware"
	apierrors "github.com/lunarlabs/accountd/internal/pkg/errors"
	"github.com/lunarlabs/accountd/internal/pkg/response"
	"github.com/lunarlabs/accountd/internal/service/payment"
)

// Stripe signs at most a few KB of event payload; anything larger is not a
// webhook we sent for.
const maxWebhookBody = 64 * 1024

// PaymentHandler handles Stripe and PayPal payment flows.
type PaymentHandler struct {
	stripe payment.StripeService
	paypal payment.PayPalService
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(stripe payment.StripeService, paypal payment.PayPalService) *PaymentHandler {
	return &PaymentHandler{stripe: stripe, paypal: paypal}
}

// Routes returns a chi router with payment routes. The webhook route is
// unauthenticated; its signature check is the authentication.
func (h *PaymentHandler) Routes(requireSession func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/stripe/webhook", h.StripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Post("/stripe/checkout", h.StripeCheckout)
		r.Post("/paypal/order", h.PayPalOrder)
		r.Post("/paypal/capture", h.PayPalCapture)
	})

	return r
}

// CheckoutRequest is the HTTP request body for starting a payment.
type CheckoutRequest struct {
	Tier int `json:"tier"`
}

// CheckoutResponse carries the provider URL the client should redirect to.
type CheckoutResponse struct {
	URL string `json:"url"`
}

// StripeCheckout handles POST /v1/payments/stripe/checkout
func (h *PaymentHandler) StripeCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	accountID := middleware.GetAccountID(r.Context())
	url, err := h.stripe.CreateCheckout(r.Context(), accountID, req.Tier)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, CheckoutResponse{URL: url})
}

// StripeWebhook handles POST /v1/payments/stripe/webhook. Signature
// verification needs the raw body, so it is read before any decoding.
func (h *PaymentHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.Error(w, apierrors.ErrBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if err := h.stripe.HandleWebhook(r.Context(), payload, signature); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{"received": "true"})
}

// PayPalOrder handles POST /v1/payments/paypal/order
func (h *PaymentHandler) PayPalOrder(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	order, err := h.paypal.CreateOrder(r.Context(), req.Tier)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, order)
}

// PayPalCaptureRequest is the HTTP request body for capturing an order.
type PayPalCaptureRequest struct {
	OrderID string `json:"order_id"`
}

// PayPalCapture handles POST /v1/payments/paypal/capture
func (h *PaymentHandler) PayPalCapture(w http.ResponseWriter, r *http.Request) {
	var req PayPalCaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.OrderID == "" {
		response.ValidationError(w, "order_id", "order id is required")
		return
	}

	accountID := middleware.GetAccountID(r.Context())
	purchase, err := h.paypal.CaptureOrder(r.Context(), accountID, req.OrderID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, purchase)
}
