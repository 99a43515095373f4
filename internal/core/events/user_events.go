package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeUserRegistered      = "user.registered"
	EventTypeUserUpdated         = "user.updated"
	EventTypeUserDeactivated     = "user.deactivated"
	EventTypeUserPasswordChanged = "user.password_changed"
	EventTypeUserTokensRevoked   = "user.tokens_revoked"
)

var UserEventTypes = []string{
	EventTypeUserRegistered,
	EventTypeUserUpdated,
	EventTypeUserDeactivated,
	EventTypeUserPasswordChanged,
	EventTypeUserTokensRevoked,
}

// UserEvent records a lifecycle change of a users row. It never carries
// password material.
type UserEvent struct {
	BaseEvent
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}

func NewUserEvent(eventType string, userID int64, email string, extra map[string]interface{}) *UserEvent {
	data := map[string]interface{}{
		"user_id": userID,
		"email":   email,
	}
	for k, v := range extra {
		data[k] = v
	}

	return &UserEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now().UTC(),
			Data:      data,
		},
		UserID: userID,
		Email:  email,
	}
}
