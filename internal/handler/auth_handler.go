// Package handler provides HTTP handlers for the accounts API.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lunarlabs/accountd/internal/middleware"
	"github.com/lunarlabs/accountd/internal/models"
	"github.com/lunarlabs/accountd/internal/pkg/captcha"
	apierrors "github.com/lunarlabs/accountd/internal/pkg/errors"
	"github.com/lunarlabs/accountd/internal/pkg/response"
	"github.com/lunarlabs/accountd/internal/service"
)

// AuthHandler handles account, session, API key and password reset requests.
type AuthHandler struct {
	authService  service.AuthService
	apiKeys      service.APIKeyService
	resets       service.ResetService
	entitlements service.EntitlementService
	captcha      captcha.Verifier
	validate     *validator.Validate
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(
	authService service.AuthService,
	apiKeys service.APIKeyService,
	resets service.ResetService,
	entitlements service.EntitlementService,
	captchaVerifier captcha.Verifier,
) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		apiKeys:      apiKeys,
		resets:       resets,
		entitlements: entitlements,
		captcha:      captchaVerifier,
		validate:     validator.New(),
	}
}

// Routes returns a chi router with auth routes. requireSession guards the
// routes that need an authenticated session; requireAuth additionally accepts
// an X-API-Key header and guards /me, the whoami endpoint for key holders.
func (h *AuthHandler) Routes(requireSession, requireAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/reset", h.RequestReset)
	r.Post("/reset/finalize", h.FinalizeReset)

	r.With(requireAuth).Get("/me", h.Me)

	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Post("/logout", h.Logout)
		r.Post("/logout-others", h.LogoutOthers)
		r.Get("/sessions", h.Sessions)
		r.Patch("/profile", h.UpdateProfile)
		r.Get("/apikey", h.GetAPIKey)
		r.Post("/apikey/rotate", h.RotateAPIKey)
	})

	return r
}

// verifyCaptcha checks the captcha token on credential endpoints.
func (h *AuthHandler) verifyCaptcha(w http.ResponseWriter, r *http.Request, token string) bool {
	ok, err := h.captcha.Verify(r.Context(), token, r.RemoteAddr)
	if err != nil {
		response.Error(w, apierrors.ErrServiceUnavailable)
		return false
	}
	if !ok {
		response.ValidationError(w, "captcha", "captcha verification failed")
		return false
	}
	return true
}

// RegisterRequest is the HTTP request body for registration.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Captcha  string `json:"captcha"`
}

// Register handles POST /v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.ValidationError(w, "request", err.Error())
		return
	}
	if !h.verifyCaptcha(w, r, req.Captcha) {
		return
	}

	account, err := h.authService.Register(r.Context(), service.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, account)
}

// LoginRequest is the HTTP request body for login.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	Captcha    string `json:"captcha"`
}

// LoginResponse carries the session token issued on login.
type LoginResponse struct {
	Token   string          `json:"token"`
	Account *models.Account `json:"account"`
}

// Login handles POST /v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.ValidationError(w, "request", err.Error())
		return
	}
	if !h.verifyCaptcha(w, r, req.Captcha) {
		return
	}

	account, session, err := h.authService.Login(r.Context(), req.Identifier, req.Password, service.SessionMeta{
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, LoginResponse{Token: session.Token, Account: account})
}

// Logout handles POST /v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.GetSessionToken(r.Context())
	if err := h.authService.Logout(r.Context(), token); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// LogoutOthers handles POST /v1/auth/logout-others
func (h *AuthHandler) LogoutOthers(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	token := middleware.GetSessionToken(r.Context())
	if err := h.authService.RevokeOthers(r.Context(), accountID, token); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// SessionResponse is the API response format for sessions. The token itself
// is never echoed back.
type SessionResponse struct {
	IP           string `json:"ip"`
	UserAgent    string `json:"user_agent"`
	LastActivity string `json:"last_activity"`
	Current      bool   `json:"current"`
}

// Sessions handles GET /v1/auth/sessions
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	current := middleware.GetSessionToken(r.Context())

	sessions, err := h.authService.Sessions(r.Context(), accountID)
	if err != nil {
		response.Error(w, err)
		return
	}

	out := make([]SessionResponse, len(sessions))
	for i, s := range sessions {
		out[i] = SessionResponse{
			IP:           s.IP,
			UserAgent:    s.UserAgent,
			LastActivity: s.LastActivity.UTC().Format(time.RFC3339),
			Current:      s.Token == current,
		}
	}
	response.OK(w, out)
}

// ProfileResponse combines the account with its premium status.
type ProfileResponse struct {
	Account *models.Account       `json:"account"`
	Premium *models.PremiumStatus `json:"premium"`
}

// Me handles GET /v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())

	account, err := h.authService.GetAccount(r.Context(), accountID)
	if err != nil {
		response.Error(w, err)
		return
	}
	premium, err := h.entitlements.Status(r.Context(), accountID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, ProfileResponse{Account: account, Premium: premium})
}

// UpdateProfileRequest is the HTTP request body for profile changes.
type UpdateProfileRequest struct {
	Username        *string `json:"username,omitempty"`
	Email           *string `json:"email,omitempty"`
	NewPassword     *string `json:"new_password,omitempty"`
	CurrentPassword string  `json:"current_password" validate:"required"`
}

// UpdateProfile handles PATCH /v1/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.ValidationError(w, "current_password", "current password is required")
		return
	}

	accountID := middleware.GetAccountID(r.Context())
	account, err := h.authService.UpdateProfile(r.Context(), accountID, service.UpdateProfileRequest{
		Username:        req.Username,
		Email:           req.Email,
		NewPassword:     req.NewPassword,
		CurrentPassword: req.CurrentPassword,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, account)
}

// GetAPIKey handles GET /v1/auth/apikey
func (h *AuthHandler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	key, err := h.apiKeys.GetOrCreate(r.Context(), accountID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, key)
}

// RotateAPIKey handles POST /v1/auth/apikey/rotate
func (h *AuthHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	key, err := h.apiKeys.Rotate(r.Context(), accountID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, key)
}

// RequestResetRequest is the HTTP request body for requesting a reset.
type RequestResetRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Captcha string `json:"captcha"`
}

// RequestReset handles POST /v1/auth/reset. The response is identical whether
// or not the email belongs to an account.
func (h *AuthHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var req RequestResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.ValidationError(w, "email", "a valid email is required")
		return
	}
	if !h.verifyCaptcha(w, r, req.Captcha) {
		return
	}

	if err := h.resets.Request(r.Context(), req.Email); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{
		"message": "If that email is registered, a reset link has been sent",
	})
}

// FinalizeResetRequest is the HTTP request body for completing a reset.
type FinalizeResetRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// FinalizeReset handles POST /v1/auth/reset/finalize
func (h *AuthHandler) FinalizeReset(w http.ResponseWriter, r *http.Request) {
	var req FinalizeResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.ValidationError(w, "request", err.Error())
		return
	}

	if err := h.resets.Finalize(r.Context(), req.Token, req.NewPassword); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{"message": "Password updated"})
}
