package consumer

import (
	"context"
	"time"
)

// User lifecycle event types published by the account service.
const (
	EventUserRegistered = "user.registered"
	EventUserUpdated    = "user.updated"
	EventUserDeleted    = "user.deleted"
)

// UserEvent is one account lifecycle change.
type UserEvent struct {
	Type         string    `json:"type"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	AvatarRef    string    `json:"avatar_ref"`
	Bio          string    `json:"bio"`
	Organization string    `json:"organization"`
	Hidden       bool      `json:"hidden"`
	Timestamp    time.Time `json:"timestamp"`
}

// UserEventHandler applies a decoded lifecycle event.
type UserEventHandler interface {
	HandleUserEvent(ctx context.Context, event *UserEvent) error
}

// UserEventConsumer manages the Kafka consumer lifecycle.
type UserEventConsumer interface {
	Start(ctx context.Context) error
	Close() error
}
