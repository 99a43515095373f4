package auth

import (
	"net/http"

	"github.com/oneflow-erp/oneflow-api/internal"
	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
	"github.com/oneflow-erp/oneflow-api/pkg/logger"
)

// RequireRoles lets the request through only when the authenticated caller
// holds one of roles. It must run after AuthMiddleware.
func (h *Handler) RequireRoles(roles ...coreuser.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := internal.ClaimsFromContext(r.Context())
			if !ok {
				h.WriteAppError(w, internal.ErrInvalidToken)
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.From(r.Context()).Warn("role check failed", "required", roles)
			h.WriteAppError(w, internal.ErrForbidden)
		})
	}
}
