package domain

import (
	"errors"
	"time"
)

// EventType identifies a user lifecycle transition.
type EventType string

const (
	EventUserCreated EventType = "USER_CREATED"
	EventUserDeleted EventType = "USER_DELETED"
	// EventUserUpdated is reserved; no update operation emits it yet.
	EventUserUpdated EventType = "USER_UPDATED"
)

// UserEventsTopic is the single topic all lifecycle events are published to.
const UserEventsTopic = "user-events"

var ErrPublisherNotConnected = errors.New("publisher not connected")

// UserEventData is the payload carried by every lifecycle event.
type UserEventData struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role,omitempty"`
	Timestamp string `json:"timestamp"`
}

// UserEvent is the message written to UserEventsTopic.
type UserEvent struct {
	Type EventType     `json:"type"`
	Data UserEventData `json:"data"`
}

// NewUserEvent builds an event for u stamped with at in ISO-8601 (UTC, millisecond precision).
func NewUserEvent(t EventType, u *User, at time.Time) UserEvent {
	return UserEvent{
		Type: t,
		Data: UserEventData{
			UserID:    u.ID,
			Username:  u.Username,
			Email:     u.Email,
			Role:      string(u.Role),
			Timestamp: at.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}
}
