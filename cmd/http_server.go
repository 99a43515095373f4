package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oneflow-erp/oneflow-api/internal"
	"github.com/oneflow-erp/oneflow-api/internal/auth"
	"github.com/oneflow-erp/oneflow-api/internal/core/events"
	"github.com/oneflow-erp/oneflow-api/internal/mq"
	"github.com/oneflow-erp/oneflow-api/internal/store"
	"github.com/oneflow-erp/oneflow-api/internal/transport"
	"github.com/oneflow-erp/oneflow-api/internal/transport/rest"
	"github.com/oneflow-erp/oneflow-api/internal/user"
	userPostgres "github.com/oneflow-erp/oneflow-api/internal/user/postgres"
	"github.com/oneflow-erp/oneflow-api/pkg/logger"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config *internal.Config
	Pool   *store.Pool
	Bus    *events.EventBus
	Broker *mq.RabbitMQClient
	Router *chi.Mux
	Logger *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	if err := setupRoutes(deps); err != nil {
		deps.Logger.Error("failed to register routes", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr, "env", deps.Config.App.Env)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		deps.close(ctx)
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func setupRoutes(deps *Dependencies) error {
	tokens, err := auth.NewTokenService(deps.Config.Security)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	users := newUserService(deps)
	base := transport.NewBaseHandler(deps.Logger)

	return rest.RegisterAllRoutes(deps.Router, rest.RouterDeps{
		DB:               deps.Pool,
		AuthHandler:      auth.NewHandler(base, auth.NewService(users, tokens, deps.Logger)),
		UserHandler:      user.NewHandler(base, users),
		Logger:           deps.Logger,
		AllowedOrigins:   deps.Config.Server.Origins(),
		ValidateRequests: deps.Config.Server.ValidateRequests,
	})
}

func initializeDependencies(ctx context.Context) (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.App.Env, config.Logging.Level, config.Logging.Format)
	lg := logger.LoggerWrapper()
	if config.UsesDevSecret() {
		lg.Warn("using the development JWT secret; set JWT_SECRET before deploying")
	}

	pool, err := initDB(ctx, config.Database, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	bus, broker, err := initEventBus(config.Events, lg)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}

	return &Dependencies{
		Config: config,
		Pool:   pool,
		Bus:    bus,
		Broker: broker,
		Router: chi.NewRouter(),
		Logger: lg,
	}, nil
}

// close drains in-flight event handlers before releasing the broker and pool.
func (d *Dependencies) close(ctx context.Context) {
	if err := d.Bus.Wait(ctx); err != nil {
		d.Logger.Warn("event handlers still running at shutdown", "error", err)
	}
	if d.Broker != nil {
		if err := d.Broker.Close(); err != nil {
			d.Logger.Error("broker close error", "error", err)
		}
	}
	if err := d.Pool.Close(); err != nil {
		d.Logger.Error("database close error", "error", err)
	}
}

func newUserService(deps *Dependencies) *user.Service {
	return user.NewService(
		userPostgres.NewUserRepository(deps.Pool),
		auth.NewBcryptHasher(deps.Config.Security.BCryptCost),
		deps.Bus,
		deps.Logger,
	)
}

// initDB opens the bounded pool. Losing the pool's resources is fatal.
func initDB(ctx context.Context, cfg internal.DatabaseConfig, lg *slog.Logger) (*store.Pool, error) {
	return store.Open(ctx, store.Config{
		DSN:            cfg.GetDSN(),
		MaxOpenConns:   cfg.MaxOpenConns,
		ConnectTimeout: cfg.ConnectTimeout,
		IdleTimeout:    cfg.IdleTimeout,
	},
		store.WithLogger(lg),
		store.WithFatalHandler(func(err error) {
			lg.Error("database pool is unusable, exiting", "error", err)
			os.Exit(1)
		}),
	)
}

// initEventBus audits every event and, when a broker is configured, forwards
// user events to it.
func initEventBus(cfg internal.EventsConfig, lg *slog.Logger) (*events.EventBus, *mq.RabbitMQClient, error) {
	bus := events.NewEventBus(lg)
	bus.Subscribe(events.AllEvents, events.AuditLogger(lg))

	if cfg.AMQPURL == "" {
		return bus, nil, nil
	}

	broker, err := mq.NewRabbitMQClient(cfg.AMQPURL)
	if err != nil {
		return nil, nil, err
	}

	forward := events.Forwarder(broker, cfg.Queue, lg)
	for _, eventType := range events.UserEventTypes {
		bus.Subscribe(eventType, forward)
	}
	lg.Info("forwarding user events", "queue", cfg.Queue)

	return bus, broker, nil
}
