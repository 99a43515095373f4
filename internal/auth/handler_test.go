package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
	"github.com/oneflow-erp/oneflow-api/internal/store"
	"github.com/oneflow-erp/oneflow-api/internal/transport"
	"github.com/oneflow-erp/oneflow-api/internal/user"
	applogger "github.com/oneflow-erp/oneflow-api/pkg/logger"
)

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var _ = ginkgo.Describe("Auth Handler", func() {
	var (
		service *Service
		users   *user.Service
		pool    *store.Pool
		router  chi.Router
	)

	do := func(method, path, body, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decodeError := func(w *httptest.ResponseRecorder) errorEnvelope {
		var body errorEnvelope
		gomega.Expect(json.NewDecoder(w.Body).Decode(&body)).To(gomega.Succeed())
		return body
	}

	registerToken := func(email, role string) string {
		w := do(http.MethodPost, "/auth/register",
			`{"name":"Ada","email":"`+email+`","password":"correct-horse","role":"`+role+`"}`, "")
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusCreated))
		var result AuthResult
		gomega.Expect(json.NewDecoder(w.Body).Decode(&result)).To(gomega.Succeed())
		return result.Tokens.AccessToken
	}

	// tokenWithRole signs up a team member and has the role granted
	// administratively, the only way to obtain a privileged account.
	tokenWithRole := func(email string, role coreuser.Role) string {
		token := registerToken(email, "")
		u, err := users.GetUserByEmail(context.Background(), email)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		_, err = users.UpdateUser(context.Background(), u.ID, user.UpdateUserInput{Role: &role})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		return token
	}

	ginkgo.BeforeEach(func() {
		service, users, pool = newTestStack()
		handler := NewHandler(&transport.BaseHandler{Logger: applogger.Discard()}, service)

		router = chi.NewRouter()
		router.Post("/auth/login", handler.Login)
		router.Post("/auth/register", handler.Register)
		router.Post("/auth/refresh", handler.RefreshToken)
		router.Group(func(r chi.Router) {
			r.Use(handler.AuthMiddleware)
			r.Get("/auth/profile", handler.Profile)
			r.Post("/auth/logout", handler.Logout)
			r.Post("/auth/change-password", handler.ChangePassword)
			r.With(handler.RequireRoles(coreuser.RoleAdmin)).Get("/admin", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		})
	})

	ginkgo.AfterEach(func() {
		gomega.Expect(pool.Close()).To(gomega.Succeed())
	})

	ginkgo.It("should register and log in with the documented shapes", func() {
		registerToken("ada@x.com", "")

		w := do(http.MethodPost, "/auth/login", `{"email":"ada@x.com","password":"correct-horse"}`, "")
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusOK))

		var body map[string]interface{}
		gomega.Expect(json.NewDecoder(w.Body).Decode(&body)).To(gomega.Succeed())
		gomega.Expect(body).To(gomega.HaveKey("message"))
		gomega.Expect(body).To(gomega.HaveKey("user"))
		tokens := body["tokens"].(map[string]interface{})
		gomega.Expect(tokens).To(gomega.HaveKeyWithValue("expiresIn", "7d"))
		gomega.Expect(tokens).To(gomega.HaveKey("accessToken"))
		gomega.Expect(tokens).To(gomega.HaveKey("refreshToken"))
		gomega.Expect(body["user"]).ToNot(gomega.HaveKey("password_hash"))
	})

	ginkgo.It("should answer bad credentials with 401", func() {
		registerToken("ada@x.com", "")

		w := do(http.MethodPost, "/auth/login", `{"email":"ada@x.com","password":"wrong-pass"}`, "")
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusUnauthorized))
		gomega.Expect(decodeError(w).Error.Code).To(gomega.Equal("INVALID_CREDENTIALS"))
	})

	ginkgo.It("should answer a malformed body with 400", func() {
		w := do(http.MethodPost, "/auth/login", `{"email":`, "")
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusBadRequest))
		gomega.Expect(decodeError(w).Error.Type).To(gomega.Equal("VALIDATION_ERROR"))
	})

	ginkgo.It("should answer a duplicate registration with 409", func() {
		registerToken("ada@x.com", "")

		w := do(http.MethodPost, "/auth/register", `{"name":"Other","email":"ada@x.com","password":"correct-horse"}`, "")
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusConflict))
		gomega.Expect(decodeError(w).Error.Code).To(gomega.Equal("DUPLICATE_EMAIL"))
	})

	ginkgo.It("should refuse a self-assigned admin role with 403", func() {
		w := do(http.MethodPost, "/auth/register",
			`{"name":"Mallory","email":"mallory@x.com","password":"correct-horse","role":"admin"}`, "")
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusForbidden))
		body := decodeError(w)
		gomega.Expect(body.Error.Type).To(gomega.Equal("FORBIDDEN"))
		gomega.Expect(body.Error.Code).To(gomega.Equal("ROLE_NOT_ALLOWED"))

		login := do(http.MethodPost, "/auth/login", `{"email":"mallory@x.com","password":"correct-horse"}`, "")
		gomega.Expect(login.Code).To(gomega.Equal(http.StatusUnauthorized))
	})

	ginkgo.Describe("AuthMiddleware", func() {
		ginkgo.It("should require a bearer token", func() {
			w := do(http.MethodGet, "/auth/profile", "", "")
			gomega.Expect(w.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(decodeError(w).Error.Code).To(gomega.Equal("INVALID_TOKEN"))
		})

		ginkgo.It("should tell expired tokens apart", func() {
			registerToken("ada@x.com", "")
			stale, err := mustTokenService(testSecurityConfig()).
				WithClock(func() time.Time { return time.Now().Add(-8 * 24 * time.Hour) }).
				GenerateTokens(coreuser.ClaimPayload{UserID: 1, Email: "ada@x.com", Role: coreuser.RoleTeamMember})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			w := do(http.MethodGet, "/auth/profile", "", stale.AccessToken)
			gomega.Expect(w.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(decodeError(w).Error.Code).To(gomega.Equal("TOKEN_EXPIRED"))
		})

		ginkgo.It("should serve the profile of the caller", func() {
			token := registerToken("ada@x.com", "")

			w := do(http.MethodGet, "/auth/profile", "", token)
			gomega.Expect(w.Code).To(gomega.Equal(http.StatusOK))

			var body ProfileResponse
			gomega.Expect(json.NewDecoder(w.Body).Decode(&body)).To(gomega.Succeed())
			gomega.Expect(body.User.Email).To(gomega.Equal("ada@x.com"))
		})

		ginkgo.It("should acknowledge logout", func() {
			token := registerToken("ada@x.com", "")
			gomega.Expect(do(http.MethodPost, "/auth/logout", "", token).Code).To(gomega.Equal(http.StatusNoContent))
		})

		ginkgo.It("should revoke the caller's token after a password change", func() {
			token := registerToken("ada@x.com", "")

			w := do(http.MethodPost, "/auth/change-password",
				`{"oldPassword":"correct-horse","newPassword":"battery-staple"}`, token)
			gomega.Expect(w.Code).To(gomega.Equal(http.StatusOK))

			gomega.Expect(do(http.MethodGet, "/auth/profile", "", token).Code).To(gomega.Equal(http.StatusUnauthorized))
		})
	})

	ginkgo.Describe("RequireRoles", func() {
		ginkgo.It("should forbid other roles", func() {
			token := tokenWithRole("pm@x.com", coreuser.RoleProjectManager)

			w := do(http.MethodGet, "/admin", "", token)
			gomega.Expect(w.Code).To(gomega.Equal(http.StatusForbidden))
			gomega.Expect(decodeError(w).Error.Code).To(gomega.Equal("FORBIDDEN"))
		})

		ginkgo.It("should admit the named role", func() {
			token := tokenWithRole("root@x.com", coreuser.RoleAdmin)
			gomega.Expect(do(http.MethodGet, "/admin", "", token).Code).To(gomega.Equal(http.StatusOK))
		})
	})
})
