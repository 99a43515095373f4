package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/oneflow-erp/oneflow-api/api"
	"github.com/oneflow-erp/oneflow-api/internal/auth"
	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
	"github.com/oneflow-erp/oneflow-api/internal/transport"
	"github.com/oneflow-erp/oneflow-api/internal/transport/middleware"
	"github.com/oneflow-erp/oneflow-api/internal/transport/swagger"
	"github.com/oneflow-erp/oneflow-api/internal/user"
)

type RouterDeps struct {
	DB               Pinger
	AuthHandler      *auth.Handler
	UserHandler      *user.Handler
	Logger           *slog.Logger
	AllowedOrigins   []string
	ValidateRequests bool
}

func RegisterAllRoutes(router *chi.Mux, deps RouterDeps) error {
	healthHandler := NewHealthHandler(transport.NewBaseHandler(deps.Logger), deps.DB)

	// Apply global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	router.Get(swagger.SpecPath, swagger.SpecHandler(api.Spec))
	router.Handle("/swagger/*", swagger.Handler())

	var validate func(next http.Handler) http.Handler
	if deps.ValidateRequests {
		v, err := middleware.OpenAPIValidator(api.Spec)
		if err != nil {
			return err
		}
		validate = v
	}

	router.Route("/api", func(r chi.Router) {
		if validate != nil {
			r.Use(validate)
		}

		r.Get("/health", healthHandler.Health)
		r.Get("/ping", healthHandler.Ping)

		authHandler := deps.AuthHandler
		r.Route("/auth", func(ar chi.Router) {
			ar.Post("/login", authHandler.Login)
			ar.Post("/register", authHandler.Register)
			ar.Post("/refresh", authHandler.RefreshToken)

			ar.Group(func(pr chi.Router) {
				pr.Use(authHandler.AuthMiddleware)
				pr.Get("/profile", authHandler.Profile)
				pr.Post("/change-password", authHandler.ChangePassword)
				pr.Post("/logout", authHandler.Logout)
			})
		})

		if deps.UserHandler != nil {
			r.Route("/users", func(ur chi.Router) {
				ur.Use(authHandler.AuthMiddleware)
				ur.Use(authHandler.RequireRoles(coreuser.RoleAdmin))

				ur.Get("/", deps.UserHandler.ListUsers)
				ur.Patch("/{id}", deps.UserHandler.UpdateUser)
				ur.Delete("/{id}", deps.UserHandler.DeactivateUser)
				ur.Post("/{id}/revoke-tokens", deps.UserHandler.RevokeTokens)
			})
		}
	})

	return nil
}
