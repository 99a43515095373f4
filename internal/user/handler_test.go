package user_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
	"github.com/oneflow-erp/oneflow-api/internal/store"
	"github.com/oneflow-erp/oneflow-api/internal/store/storetest"
	"github.com/oneflow-erp/oneflow-api/internal/transport"
	"github.com/oneflow-erp/oneflow-api/internal/user"
	userPostgres "github.com/oneflow-erp/oneflow-api/internal/user/postgres"
	applogger "github.com/oneflow-erp/oneflow-api/pkg/logger"
)

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var _ = Describe("User Handler Integration", func() {
	var (
		pool    *store.Pool
		service *user.Service
		router  chi.Router
		seeded  *user.User
	)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		slogger := applogger.Discard()
		var err error
		pool, err = storetest.OpenSQLite(store.WithLogger(slogger))
		Expect(err).NotTo(HaveOccurred())
		service = user.NewService(userPostgres.NewUserRepository(pool), &prefixHasher{}, nil, slogger)
		handler := user.NewHandler(&transport.BaseHandler{Logger: slogger}, service)

		router = chi.NewRouter()
		router.Get("/users", handler.ListUsers)
		router.Patch("/users/{id}", handler.UpdateUser)
		router.Delete("/users/{id}", handler.DeactivateUser)
		router.Post("/users/{id}/revoke-tokens", handler.RevokeTokens)

		seeded, err = service.CreateUser(context.Background(), user.CreateUserInput{
			Name: "Ada", Email: "ada@x.com", Password: "correct-horse", Role: coreuser.RoleFinance, HourlyRate: 60,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(pool.Close()).To(Succeed())
	})

	It("should list users without password hashes", func() {
		w := do(http.MethodGet, "/users", "")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Header().Get("Content-Type")).To(ContainSubstring("application/json"))
		Expect(w.Body.String()).NotTo(ContainSubstring("password"))
		Expect(w.Body.String()).NotTo(ContainSubstring("hashed:"))

		var response user.UsersResponse
		Expect(json.NewDecoder(w.Body).Decode(&response)).To(Succeed())
		Expect(response.Users).To(HaveLen(1))
		Expect(response.Users[0].Email).To(Equal("ada@x.com"))
	})

	It("should apply a partial update", func() {
		w := do(http.MethodPatch, "/users/1", `{"hourly_rate": 75.5}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		var response user.UserResponse
		Expect(json.NewDecoder(w.Body).Decode(&response)).To(Succeed())
		Expect(response.User.HourlyRate).To(Equal(75.5))
		Expect(response.User.Role).To(Equal(coreuser.RoleFinance))
		Expect(response.User.Version).To(Equal(2))
	})

	It("should reject an empty update", func() {
		w := do(http.MethodPatch, "/users/1", `{}`)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		var body errorBody
		Expect(json.NewDecoder(w.Body).Decode(&body)).To(Succeed())
		Expect(body.Error.Code).To(Equal("NO_FIELDS_TO_UPDATE"))
	})

	It("should reject an invalid role", func() {
		w := do(http.MethodPatch, "/users/1", `{"role": "owner"}`)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		var body errorBody
		Expect(json.NewDecoder(w.Body).Decode(&body)).To(Succeed())
		Expect(body.Error.Type).To(Equal("VALIDATION_ERROR"))
	})

	It("should report a stale write as a conflict", func() {
		Expect(do(http.MethodPatch, "/users/1", `{"name": "Ada L", "expected_version": 1}`).Code).To(Equal(http.StatusOK))

		w := do(http.MethodPatch, "/users/1", `{"name": "Grace", "expected_version": 1}`)
		Expect(w.Code).To(Equal(http.StatusConflict))
		var body errorBody
		Expect(json.NewDecoder(w.Body).Decode(&body)).To(Succeed())
		Expect(body.Error.Code).To(Equal("STALE_WRITE"))
	})

	It("should reject moving onto a taken email", func() {
		_, err := service.CreateUser(context.Background(), user.CreateUserInput{
			Name: "Grace", Email: "grace@x.com", Password: "correct-horse",
		})
		Expect(err).NotTo(HaveOccurred())

		w := do(http.MethodPatch, "/users/2", `{"email": "ada@x.com"}`)
		Expect(w.Code).To(Equal(http.StatusConflict))
	})

	It("should return 404 for unknown users", func() {
		Expect(do(http.MethodPatch, "/users/99", `{"name": "x"}`).Code).To(Equal(http.StatusNotFound))
		Expect(do(http.MethodDelete, "/users/99", "").Code).To(Equal(http.StatusNotFound))
		Expect(do(http.MethodPost, "/users/99/revoke-tokens", "").Code).To(Equal(http.StatusNotFound))
	})

	It("should reject a non-numeric id", func() {
		Expect(do(http.MethodDelete, "/users/abc", "").Code).To(Equal(http.StatusBadRequest))
	})

	It("should deactivate and then revoke nothing", func() {
		Expect(do(http.MethodDelete, "/users/1", "").Code).To(Equal(http.StatusOK))

		u, err := service.GetUserByID(context.Background(), seeded.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(u).To(BeNil())

		Expect(do(http.MethodPost, "/users/1/revoke-tokens", "").Code).To(Equal(http.StatusNotFound))
	})

	It("should revoke tokens for an active user", func() {
		w := do(http.MethodPost, "/users/1/revoke-tokens", "")
		Expect(w.Code).To(Equal(http.StatusOK))

		u, err := service.GetUserByID(context.Background(), seeded.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(u.TokenVersion).To(Equal(1))
	})
})
