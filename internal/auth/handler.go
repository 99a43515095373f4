package auth

import (
	"context"
	"net/http"

	"github.com/oneflow-erp/oneflow-api/internal"
	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
	"github.com/oneflow-erp/oneflow-api/internal/transport"
	"github.com/oneflow-erp/oneflow-api/internal/user"
	"github.com/oneflow-erp/oneflow-api/pkg/logger"
)

type ServiceAPI interface {
	Login(ctx context.Context, dto LoginDTO) (*AuthResult, error)
	Register(ctx context.Context, dto RegisterDTO) (*AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	Authorize(ctx context.Context, accessToken string) (*coreuser.ClaimPayload, error)
	Profile(ctx context.Context, claims *coreuser.ClaimPayload) (*user.PublicUser, error)
	ChangePassword(ctx context.Context, claims *coreuser.ClaimPayload, dto ChangePasswordDTO) error
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, svc ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     svc,
	}
}

type ProfileResponse struct {
	User *user.PublicUser `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// Login handles POST /auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if appErr := h.DecodeJSON(r, &dto); appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}

	result, err := h.Service.Login(r.Context(), dto)
	if err != nil {
		h.HandleError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// Register handles POST /auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var dto RegisterDTO
	if appErr := h.DecodeJSON(r, &dto); appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}

	result, err := h.Service.Register(r.Context(), dto)
	if err != nil {
		h.HandleError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, result)
}

// RefreshToken handles POST /auth/refresh
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var dto RefreshTokenDTO
	if appErr := h.DecodeJSON(r, &dto); appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}
	if appErr := dto.Validate(); appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}

	tokens, err := h.Service.Refresh(r.Context(), dto.RefreshToken)
	if err != nil {
		h.HandleError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, tokens)
}

// Profile handles GET /auth/profile
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := internal.ClaimsFromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrInvalidToken)
		return
	}

	u, err := h.Service.Profile(r.Context(), claims)
	if err != nil {
		h.HandleError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ProfileResponse{User: u})
}

// ChangePassword handles POST /auth/change-password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := internal.ClaimsFromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrInvalidToken)
		return
	}

	var dto ChangePasswordDTO
	if appErr := h.DecodeJSON(r, &dto); appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}

	if err := h.Service.ChangePassword(r.Context(), claims, dto); err != nil {
		h.HandleError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password changed; sign in again"})
}

// Logout handles POST /auth/logout. Tokens are stateless, so this only
// acknowledges an authenticated caller; clients drop their tokens.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if _, ok := internal.ClaimsFromContext(r.Context()); !ok {
		h.WriteAppError(w, internal.ErrInvalidToken)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuthMiddleware requires a valid bearer token and stores the caller's
// current claims in the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractTokenFromHeader(r.Header.Get("Authorization"))
		if token == "" {
			h.WriteAppError(w, internal.NewUnauthorizedError("Missing bearer token", internal.ErrCodeInvalidToken))
			return
		}

		claims, err := h.Service.Authorize(r.Context(), token)
		if err != nil {
			h.HandleError(w, r, err)
			return
		}

		ctx := internal.ContextWithClaims(r.Context(), claims)
		ctx = logger.With(ctx, "user_id", claims.UserID, "role", string(claims.Role))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
