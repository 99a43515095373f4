package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oneflow-erp/oneflow-api/internal"
	"github.com/oneflow-erp/oneflow-api/internal/core/events"
	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
	"github.com/oneflow-erp/oneflow-api/internal/mq"
	applogger "github.com/oneflow-erp/oneflow-api/pkg/logger"
)

func TestCmd(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cmd Suite")
}

var _ = Describe("command helpers", func() {
	Describe("parseUserID", func() {
		It("should accept positive integers", func() {
			id, err := parseUserID("42")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(int64(42)))
		})

		It("should reject zero and garbage", func() {
			for _, raw := range []string{"0", "-1", "abc", ""} {
				_, err := parseUserID(raw)
				Expect(err).To(HaveOccurred(), raw)
			}
		})
	})

	Describe("readPassword", func() {
		It("should read one line from piped input", func() {
			password, err := readPassword(strings.NewReader("Secr3t!@\nignored\n"), &bytes.Buffer{})
			Expect(err).NotTo(HaveOccurred())
			Expect(password).To(Equal("Secr3t!@"))
		})

		It("should accept input without a trailing newline", func() {
			password, err := readPassword(strings.NewReader("Secr3t!@"), &bytes.Buffer{})
			Expect(err).NotTo(HaveOccurred())
			Expect(password).To(Equal("Secr3t!@"))
		})

		It("should refuse an empty password", func() {
			_, err := readPassword(strings.NewReader("\n"), &bytes.Buffer{})
			Expect(err).To(MatchError("password is required"))
		})
	})

	Describe("migrationCommand", func() {
		AfterEach(func() {
			migrateRollback = false
			migrateStatus = false
		})

		It("should migrate up by default", func() {
			Expect(migrationCommand()).To(Equal("up"))
		})

		It("should roll back one version", func() {
			migrateRollback = true
			Expect(migrationCommand()).To(Equal("down"))
		})

		It("should prefer status over rollback", func() {
			migrateRollback = true
			migrateStatus = true
			Expect(migrationCommand()).To(Equal("status"))
		})
	})

	Describe("seedUsers", func() {
		It("should produce one active user per role", func() {
			seeds := seedUsers("hash")
			Expect(seeds).To(HaveLen(len(coreuser.Roles)))

			emails := map[string]bool{}
			for i, u := range seeds {
				Expect(u.Role).To(Equal(string(coreuser.Roles[i])))
				Expect(u.PasswordHash).To(Equal("hash"))
				Expect(u.IsActive).To(BeTrue())
				emails[u.Email] = true
			}
			Expect(emails).To(HaveKey("project.manager@oneflow.local"))
			Expect(emails).To(HaveLen(len(coreuser.Roles)))
		})
	})

	Describe("handleEventMessage", func() {
		var (
			out *bytes.Buffer
			lg  *slog.Logger
		)

		BeforeEach(func() {
			out = &bytes.Buffer{}
			lg = slog.New(slog.NewJSONHandler(out, nil))
		})

		It("should audit a decoded event", func() {
			body, err := events.Encode(events.NewUserEvent(events.EventTypeUserRegistered, 7, "a@x.com", nil))
			Expect(err).NotTo(HaveOccurred())

			err = handleEventMessage(lg)(context.Background(), mq.Message{ID: "m1", Data: body})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.String()).To(ContainSubstring(`"event_type":"user.registered"`))
			Expect(out.String()).To(ContainSubstring(`"message_id":"m1"`))
		})

		It("should acknowledge undecodable bodies", func() {
			err := handleEventMessage(lg)(context.Background(), mq.Message{ID: "m2", Data: []byte("{")})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.String()).To(ContainSubstring("dropping undecodable event"))
		})
	})

	Describe("initEventBus", func() {
		It("should audit locally without a broker", func() {
			bus, broker, err := initEventBus(internal.EventsConfig{Queue: "q"}, applogger.Discard())
			Expect(err).NotTo(HaveOccurred())
			Expect(broker).To(BeNil())
			Expect(bus.Publish(context.Background(), events.NewUserEvent(events.EventTypeUserUpdated, 1, "a@x.com", nil))).To(Succeed())
			Expect(bus.Wait(context.Background())).To(Succeed())
		})
	})

	It("should prefer flag values over config", func() {
		Expect(getStringFlag("flag", "config")).To(Equal("flag"))
		Expect(getStringFlag("", "config")).To(Equal("config"))
	})
})
