package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/oneflow-erp/oneflow-api/internal/core/events"
	"github.com/oneflow-erp/oneflow-api/pkg/logger"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Manage events: publish test user events through the bus and, when configured, the broker`,
}

var publishEventCmd = &cobra.Command{
	Use:       "publish [event-type]",
	Short:     "Publish a test user event",
	Long:      `Publish a user event to the event bus for testing and debugging`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: events.UserEventTypes,
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishTestEvent(cmd.Context(), args[0])
	},
}

var (
	eventData   string
	eventUserID int64
	eventEmail  string
)

func publishTestEvent(ctx context.Context, eventType string) error {
	if !slices.Contains(events.UserEventTypes, eventType) {
		return fmt.Errorf("unknown event type %q, expected one of %v", eventType, events.UserEventTypes)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.App.Env, config.Logging.Level, config.Logging.Format)
	lg := logger.LoggerWrapper()

	eventBus, broker, err := initEventBus(config.Events, lg)
	if err != nil {
		return err
	}
	if broker != nil {
		defer broker.Close()
	}

	event := events.NewUserEvent(eventType, eventUserID, eventEmail, map[string]interface{}{
		"message": eventData,
		"source":  "cli-command",
	})

	lg.Info("publishing test event", "event_type", eventType, "event_id", event.EventID())

	if err := eventBus.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := eventBus.Wait(waitCtx); err != nil {
		return fmt.Errorf("waiting for handlers: %w", err)
	}

	lg.Info("test event published successfully")
	return nil
}

func init() {
	publishEventCmd.Flags().StringVar(&eventData, "data", "test message", "Event data message")
	publishEventCmd.Flags().Int64Var(&eventUserID, "user-id", 0, "User id carried by the event")
	publishEventCmd.Flags().StringVar(&eventEmail, "email", "cli@oneflow.local", "Email carried by the event")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
