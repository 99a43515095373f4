package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/oneflow-erp/oneflow-api/internal/core/events"
	"github.com/oneflow-erp/oneflow-api/internal/mq"
	"github.com/oneflow-erp/oneflow-api/pkg/logger"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start and manage background workers that consume the user event queue.`,
}

var eventWorkerCmd = &cobra.Command{
	Use:   "events",
	Short: "Consume forwarded user events",
	Long:  `Consume user lifecycle events from the message broker and write them to the audit log`,
	Run: func(cmd *cobra.Command, args []string) {
		startEventWorker()
	},
}

var workerQueue string

func startEventWorker() {
	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.App.Env, config.Logging.Level, config.Logging.Format)
	lg := logger.LoggerWrapper()

	if config.Events.AMQPURL == "" {
		lg.Error("events.amqp_url is not configured; nothing to consume")
		os.Exit(1)
	}

	queue := getStringFlag(workerQueue, config.Events.Queue)

	broker, err := mq.NewRabbitMQClient(config.Events.AMQPURL)
	if err != nil {
		lg.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg.Info("event worker started", "queue", queue)

	err = broker.Subscribe(ctx, queue, handleEventMessage(lg))
	if err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("event worker stopped", "error", err)
		os.Exit(1)
	}

	lg.Info("event worker shutdown complete")
}

// handleEventMessage writes one audit line per delivery. Undecodable bodies
// are logged and acknowledged so they are not redelivered forever.
func handleEventMessage(lg *slog.Logger) mq.Handler {
	return func(ctx context.Context, msg mq.Message) error {
		env, err := events.Decode(msg.Data)
		if err != nil {
			lg.WarnContext(ctx, "dropping undecodable event", "message_id", msg.ID, "error", err)
			return nil
		}

		lg.InfoContext(ctx, "audit",
			"event_type", env.Type,
			"event_id", env.ID,
			"occurred_at", env.Timestamp,
			"message_id", msg.ID,
			"payload", env.Data)
		return nil
	}
}

func getStringFlag(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

func init() {
	eventWorkerCmd.Flags().StringVar(&workerQueue, "queue", "", "Queue to consume (overrides config)")

	workerCmd.AddCommand(eventWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
