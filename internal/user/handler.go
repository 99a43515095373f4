package user

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/oneflow-erp/oneflow-api/internal"
	"github.com/oneflow-erp/oneflow-api/internal/transport"
)

type ServiceAPI interface {
	GetAllUsers(ctx context.Context) ([]*PublicUser, error)
	UpdateUser(ctx context.Context, id int64, in UpdateUserInput) (*User, error)
	DeactivateUser(ctx context.Context, id int64) (bool, error)
	RevokeTokens(ctx context.Context, id int64) (bool, error)
}

// Handler serves the admin user-management routes. Role checks happen in
// middleware before these run.
type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

// ListUsers handles GET /users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.GetAllUsers(r.Context())
	if err != nil {
		h.HandleError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, UsersResponse{Users: users})
}

// UpdateUser handles PATCH /users/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, appErr := userIDParam(r)
	if appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}

	var dto UpdateUserDTO
	if appErr := h.DecodeJSON(r, &dto); appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}
	if appErr := dto.Validate(); appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}

	u, err := h.Service.UpdateUser(r.Context(), id, dto.ToUpdateInput())
	if err != nil {
		h.HandleError(w, r, err)
		return
	}
	if u == nil {
		h.WriteAppError(w, internal.ErrUserNotFound)
		return
	}

	h.WriteJSON(w, http.StatusOK, UserResponse{User: u.Public()})
}

// DeactivateUser handles DELETE /users/{id}
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	id, appErr := userIDParam(r)
	if appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}

	ok, err := h.Service.DeactivateUser(r.Context(), id)
	if err != nil {
		h.HandleError(w, r, err)
		return
	}
	if !ok {
		h.WriteAppError(w, internal.ErrUserNotFound)
		return
	}

	h.WriteJSON(w, http.StatusOK, MessageResponse{Message: "User deactivated"})
}

// RevokeTokens handles POST /users/{id}/revoke-tokens
func (h *Handler) RevokeTokens(w http.ResponseWriter, r *http.Request) {
	id, appErr := userIDParam(r)
	if appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}

	ok, err := h.Service.RevokeTokens(r.Context(), id)
	if err != nil {
		h.HandleError(w, r, err)
		return
	}
	if !ok {
		h.WriteAppError(w, internal.ErrUserNotFound)
		return
	}

	h.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Tokens revoked"})
}

func userIDParam(r *http.Request) (int64, *internal.AppError) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, internal.NewValidationFieldError("id", "id must be a positive integer", internal.ErrCodeValidationFailed)
	}
	return id, nil
}
