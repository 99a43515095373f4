package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// MessagePublisher is satisfied by the RabbitMQ client in internal/mq.
type MessagePublisher interface {
	Publish(ctx context.Context, queue string, data []byte, attrs map[string]string) (string, error)
}

// Envelope is the wire shape of a forwarded event.
type Envelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func Encode(event Event) ([]byte, error) {
	data, _ := event.Payload().(map[string]interface{})
	return json.Marshal(Envelope{
		ID:        event.EventID(),
		Type:      event.EventType(),
		Timestamp: event.OccurredAt().UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
}

func Decode(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode event: missing type")
	}
	return &env, nil
}

// Forwarder returns a handler that publishes each event to queue.
func Forwarder(pub MessagePublisher, queue string, logger *slog.Logger) Handler {
	return func(ctx context.Context, event Event) error {
		body, err := Encode(event)
		if err != nil {
			return err
		}

		msgID, err := pub.Publish(ctx, queue, body, map[string]string{
			"event_type": event.EventType(),
			"event_id":   event.EventID(),
		})
		if err != nil {
			return fmt.Errorf("forward %s: %w", event.EventType(), err)
		}

		logger.Debug("event forwarded",
			"event_type", event.EventType(),
			"event_id", event.EventID(),
			"message_id", msgID,
			"queue", queue)
		return nil
	}
}

// AuditLogger writes one structured line per event.
func AuditLogger(logger *slog.Logger) Handler {
	return func(ctx context.Context, event Event) error {
		logger.InfoContext(ctx, "audit",
			"event_type", event.EventType(),
			"event_id", event.EventID(),
			"occurred_at", event.OccurredAt(),
			"payload", event.Payload())
		return nil
	}
}
