package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lunarlabs/accountd/internal/middleware"
	"github.com/lunarlabs/accountd/internal/models"
	"github.com/lunarlabs/accountd/internal/pkg/response"
	"github.com/lunarlabs/accountd/internal/service"
	"github.com/lunarlabs/accountd/internal/service/payment"
)

// AdminHandler handles administrative premium and API key operations.
type AdminHandler struct {
	entitlements service.EntitlementService
	manual       payment.ManualService
	apiKeys      service.APIKeyService
	permissions  service.PermissionChecker
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	entitlements service.EntitlementService,
	manual payment.ManualService,
	apiKeys service.APIKeyService,
	permissions service.PermissionChecker,
) *AdminHandler {
	return &AdminHandler{
		entitlements: entitlements,
		manual:       manual,
		apiKeys:      apiKeys,
		permissions:  permissions,
	}
}

// Routes returns a chi router with admin routes. Every route requires a
// session plus the named permission.
func (h *AdminHandler) Routes(requireSession func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requireSession)

	r.With(middleware.RequirePermission(h.permissions, service.PermPremiumRead)).
		Get("/premium/{account}", h.GetPremium)
	r.With(middleware.RequirePermission(h.permissions, service.PermPremiumSet)).
		Post("/premium/{account}", h.GrantPremium)
	r.With(middleware.RequirePermission(h.permissions, service.PermPremiumSet)).
		Delete("/premium/{account}", h.RevokePremium)
	r.With(middleware.RequirePermission(h.permissions, service.PermAPIKeySet)).
		Patch("/apikey/{account}", h.UpdateAPIKey)

	return r
}

func accountParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "account"))
	return id, err == nil
}

// PremiumDetails combines current status with the full purchase ledger.
type PremiumDetails struct {
	Status  *models.PremiumStatus `json:"status"`
	History []*models.Purchase    `json:"history"`
}

// GetPremium handles GET /v1/admin/premium/{account}
func (h *AdminHandler) GetPremium(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(r)
	if !ok {
		response.ValidationError(w, "account", "invalid account id")
		return
	}

	status, err := h.entitlements.Status(r.Context(), accountID)
	if err != nil {
		response.Error(w, err)
		return
	}
	history, err := h.entitlements.History(r.Context(), accountID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, PremiumDetails{Status: status, History: history})
}

// GrantPremiumRequest is the HTTP request body for a manual grant.
type GrantPremiumRequest struct {
	Tier int `json:"tier"`
}

// GrantPremium handles POST /v1/admin/premium/{account}
func (h *AdminHandler) GrantPremium(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(r)
	if !ok {
		response.ValidationError(w, "account", "invalid account id")
		return
	}

	var req GrantPremiumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	purchase, err := h.manual.Grant(r.Context(), accountID, req.Tier)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, purchase)
}

// RevokePremium handles DELETE /v1/admin/premium/{account}
func (h *AdminHandler) RevokePremium(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(r)
	if !ok {
		response.ValidationError(w, "account", "invalid account id")
		return
	}

	if err := h.manual.Revoke(r.Context(), accountID); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// UpdateAPIKeyRequest is the HTTP request body for admin API key changes.
// Nil fields are left unchanged.
type UpdateAPIKeyRequest struct {
	Disabled   *bool `json:"disabled,omitempty"`
	DailyQuota *int  `json:"daily_quota,omitempty"`
}

// UpdateAPIKey handles PATCH /v1/admin/apikey/{account}
func (h *AdminHandler) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(r)
	if !ok {
		response.ValidationError(w, "account", "invalid account id")
		return
	}

	var req UpdateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.Disabled == nil && req.DailyQuota == nil {
		response.ValidationError(w, "request", "nothing to update")
		return
	}

	if req.Disabled != nil {
		if err := h.apiKeys.SetDisabled(r.Context(), accountID, *req.Disabled); err != nil {
			response.Error(w, err)
			return
		}
	}
	if req.DailyQuota != nil {
		if err := h.apiKeys.SetQuota(r.Context(), accountID, *req.DailyQuota); err != nil {
			response.Error(w, err)
			return
		}
	}
	response.NoContent(w)
}
