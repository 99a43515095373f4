package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"

	"github.com/oneflow-erp/oneflow-api/internal"
	"github.com/oneflow-erp/oneflow-api/internal/core/events"
	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
	"github.com/oneflow-erp/oneflow-api/internal/store"
	"github.com/oneflow-erp/oneflow-api/internal/store/storetest"
	"github.com/oneflow-erp/oneflow-api/internal/user"
	userPostgres "github.com/oneflow-erp/oneflow-api/internal/user/postgres"
	applogger "github.com/oneflow-erp/oneflow-api/pkg/logger"
)

// newTestStack wires the auth service over an in-memory users table.
func newTestStack() (*Service, *user.Service, *store.Pool) {
	lg := applogger.Discard()
	pool, err := storetest.OpenSQLite(store.WithLogger(lg))
	gomega.Expect(err).ToNot(gomega.HaveOccurred())
	users := user.NewService(
		userPostgres.NewUserRepository(pool),
		NewBcryptHasher(bcrypt.MinCost),
		events.NewEventBus(lg),
		lg,
	)
	return NewService(users, mustTokenService(testSecurityConfig()), lg), users, pool
}

var _ = ginkgo.Describe("AuthService", func() {
	var (
		ctx     context.Context
		service *Service
		users   *user.Service
		pool    *store.Pool
	)

	register := func(email, role string) *AuthResult {
		result, err := service.Register(ctx, RegisterDTO{
			Name:       "Ada",
			Email:      email,
			Password:   "correct-horse",
			Role:       role,
			HourlyRate: 50,
		})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		return result
	}

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		service, users, pool = newTestStack()
	})

	ginkgo.AfterEach(func() {
		gomega.Expect(pool.Close()).To(gomega.Succeed())
	})

	ginkgo.Describe("Register", func() {
		ginkgo.It("should create the user and return tokens", func() {
			result := register("ada@x.com", "team_member")

			gomega.Expect(result.Message).To(gomega.Equal("User registered successfully"))
			gomega.Expect(result.User.Email).To(gomega.Equal("ada@x.com"))
			gomega.Expect(result.User.Role).To(gomega.Equal(coreuser.RoleTeamMember))
			gomega.Expect(result.Tokens.ExpiresIn).To(gomega.Equal("7d"))

			claims, err := service.Authorize(ctx, result.Tokens.AccessToken)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(claims.UserID).To(gomega.Equal(result.User.ID))
		})

		ginkgo.It("should default the role to team_member", func() {
			result := register("ada@x.com", "")
			gomega.Expect(result.User.Role).To(gomega.Equal(coreuser.RoleTeamMember))
		})

		ginkgo.It("should refuse privileged roles without creating the user", func() {
			for _, role := range []string{"admin", "project_manager", "finance"} {
				// Given
				dto := RegisterDTO{Name: "Mallory", Email: "mallory@x.com", Password: "correct-horse", Role: role}

				// When
				result, err := service.Register(ctx, dto)

				// Then
				gomega.Expect(result).To(gomega.BeNil(), role)
				gomega.Expect(errors.Is(err, internal.ErrRoleNotAllowed)).To(gomega.BeTrue(), role)
				appErr, ok := internal.IsAppError(err)
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(appErr.StatusCode).To(gomega.Equal(http.StatusForbidden))

				stored, err := users.GetUserByEmail(ctx, "mallory@x.com")
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
				gomega.Expect(stored).To(gomega.BeNil(), role)
			}
		})

		ginkgo.It("should still reject unknown roles as validation errors", func() {
			_, err := service.Register(ctx, RegisterDTO{Name: "Ada", Email: "ada@x.com", Password: "correct-horse", Role: "owner"})

			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodeValidationFailed))
		})

		ginkgo.It("should surface duplicate emails", func() {
			register("ada@x.com", "")

			_, err := service.Register(ctx, RegisterDTO{Name: "Other", Email: "ada@x.com", Password: "correct-horse"})
			gomega.Expect(errors.Is(err, internal.ErrDuplicateEmail)).To(gomega.BeTrue())
		})

		ginkgo.It("should reject a short password", func() {
			_, err := service.Register(ctx, RegisterDTO{Name: "Ada", Email: "ada@x.com", Password: "short"})

			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			details := appErr.Details.(internal.ValidationErrors)
			gomega.Expect(details.Errors).To(gomega.HaveLen(1))
			gomega.Expect(details.Errors[0].Code).To(gomega.Equal(string(internal.ErrCodeWeakPassword)))
		})
	})

	ginkgo.Describe("Login", func() {
		ginkgo.BeforeEach(func() {
			result := register("ada@x.com", "")
			role := coreuser.RoleFinance
			_, err := users.UpdateUser(ctx, result.User.ID, user.UpdateUserInput{Role: &role})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
		})

		ginkgo.It("should return the user and a token pair", func() {
			// Given
			dto := LoginDTO{Email: "ada@x.com", Password: "correct-horse"}

			// When
			result, err := service.Login(ctx, dto)

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(result.Message).To(gomega.Equal("Login successful"))
			gomega.Expect(result.User.Role).To(gomega.Equal(coreuser.RoleFinance))
			gomega.Expect(result.Tokens.AccessToken).ToNot(gomega.BeEmpty())
			gomega.Expect(result.Tokens.RefreshToken).ToNot(gomega.BeEmpty())
		})

		ginkgo.It("should not distinguish unknown email from wrong password", func() {
			_, wrongPassword := service.Login(ctx, LoginDTO{Email: "ada@x.com", Password: "nope"})
			_, unknownEmail := service.Login(ctx, LoginDTO{Email: "nobody@x.com", Password: "nope"})

			gomega.Expect(wrongPassword).To(gomega.Equal(internal.ErrInvalidCredentials))
			gomega.Expect(unknownEmail).To(gomega.Equal(internal.ErrInvalidCredentials))
		})

		ginkgo.It("should reject missing fields before touching the store", func() {
			_, err := service.Login(ctx, LoginDTO{})

			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodeValidationFailed))
		})

		ginkgo.It("should refuse deactivated users", func() {
			result, err := service.Login(ctx, LoginDTO{Email: "ada@x.com", Password: "correct-horse"})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			_, err = users.DeactivateUser(ctx, result.User.ID)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			_, err = service.Login(ctx, LoginDTO{Email: "ada@x.com", Password: "correct-horse"})
			gomega.Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(gomega.BeTrue())
		})
	})

	ginkgo.Describe("Refresh", func() {
		ginkgo.It("should issue a new pair from the current row", func() {
			result := register("ada@x.com", "team_member")
			role := coreuser.RoleAdmin
			_, err := users.UpdateUser(ctx, result.User.ID, user.UpdateUserInput{Role: &role})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			pair, err := service.Refresh(ctx, result.Tokens.RefreshToken)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			claims := DecodeToken(pair.AccessToken)
			gomega.Expect(claims["role"]).To(gomega.Equal("admin"))
		})

		ginkgo.It("should reject an access token", func() {
			result := register("ada@x.com", "")

			_, err := service.Refresh(ctx, result.Tokens.AccessToken)
			gomega.Expect(IsTokenKind(err, TokenWrongType)).To(gomega.BeTrue())
		})

		ginkgo.It("should reject refresh tokens issued before a revocation", func() {
			result := register("ada@x.com", "")
			_, err := users.RevokeTokens(ctx, result.User.ID)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			_, err = service.Refresh(ctx, result.Tokens.RefreshToken)
			gomega.Expect(IsTokenKind(err, TokenRevoked)).To(gomega.BeTrue())
			gomega.Expect(errors.Is(err, internal.ErrInvalidToken)).To(gomega.BeTrue())
		})
	})

	ginkgo.Describe("Authorize", func() {
		ginkgo.It("should revoke old tokens and accept new ones", func() {
			result := register("ada@x.com", "")
			_, err := users.RevokeTokens(ctx, result.User.ID)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			_, err = service.Authorize(ctx, result.Tokens.AccessToken)
			gomega.Expect(IsTokenKind(err, TokenRevoked)).To(gomega.BeTrue())

			fresh, err := service.Login(ctx, LoginDTO{Email: "ada@x.com", Password: "correct-horse"})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			_, err = service.Authorize(ctx, fresh.Tokens.AccessToken)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
		})

		ginkgo.It("should reject tokens of deactivated users", func() {
			result := register("ada@x.com", "")
			_, err := users.DeactivateUser(ctx, result.User.ID)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			_, err = service.Authorize(ctx, result.Tokens.AccessToken)
			gomega.Expect(IsTokenKind(err, TokenRevoked)).To(gomega.BeTrue())
		})

		ginkgo.It("should return the role from the row, not the token", func() {
			result := register("ada@x.com", "team_member")
			role := coreuser.RoleFinance
			_, err := users.UpdateUser(ctx, result.User.ID, user.UpdateUserInput{Role: &role})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			claims, err := service.Authorize(ctx, result.Tokens.AccessToken)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(claims.Role).To(gomega.Equal(coreuser.RoleFinance))
		})
	})

	ginkgo.Describe("ChangePassword", func() {
		ginkgo.It("should replace the password and revoke outstanding tokens", func() {
			result := register("ada@x.com", "")
			claims, err := service.Authorize(ctx, result.Tokens.AccessToken)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			err = service.ChangePassword(ctx, claims, ChangePasswordDTO{OldPassword: "correct-horse", NewPassword: "battery-staple"})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			_, err = service.Authorize(ctx, result.Tokens.AccessToken)
			gomega.Expect(IsTokenKind(err, TokenRevoked)).To(gomega.BeTrue())

			_, err = service.Login(ctx, LoginDTO{Email: "ada@x.com", Password: "correct-horse"})
			gomega.Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(gomega.BeTrue())

			_, err = service.Login(ctx, LoginDTO{Email: "ada@x.com", Password: "battery-staple"})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
		})

		ginkgo.It("should reject a wrong current password", func() {
			result := register("ada@x.com", "")
			claims, err := service.Authorize(ctx, result.Tokens.AccessToken)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			err = service.ChangePassword(ctx, claims, ChangePasswordDTO{OldPassword: "wrong-one", NewPassword: "battery-staple"})
			gomega.Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(gomega.BeTrue())
		})
	})

	ginkgo.Describe("Profile", func() {
		ginkgo.It("should resolve claims to the public user", func() {
			result := register("ada@x.com", "")
			claims, err := service.Authorize(ctx, result.Tokens.AccessToken)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			profile, err := service.Profile(ctx, claims)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(profile.Email).To(gomega.Equal("ada@x.com"))
		})

		ginkgo.It("should 404 for a user that no longer exists", func() {
			_, err := service.Profile(ctx, &coreuser.ClaimPayload{UserID: 404})
			gomega.Expect(errors.Is(err, internal.ErrUserNotFound)).To(gomega.BeTrue())
		})
	})
})
