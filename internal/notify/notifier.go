package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/iolipix/JuriNapse-sub001/pkg/pubsub"
)

// DefaultChannel is the bus channel notifications are published on.
const DefaultChannel = "graph:notifications"

// TypeFollow is the notification type sent when someone gains a follower.
const TypeFollow = "follow"

// Notification is delivered to RecipientID about something ActorID did.
type Notification struct {
	RecipientID string    `json:"recipient_id"`
	ActorID     string    `json:"actor_id"`
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notifier delivers notifications. Callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// BusNotifier publishes notifications to the event bus, keyed by recipient.
type BusNotifier struct {
	pub     pubsub.Publisher
	channel string
}

// NewBusNotifier creates a notifier. An empty channel selects DefaultChannel.
func NewBusNotifier(pub pubsub.Publisher, channel string) *BusNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &BusNotifier{pub: pub, channel: channel}
}

// Notify publishes n.
func (b *BusNotifier) Notify(ctx context.Context, n *Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	evt, err := pubsub.NewEvent(n.Type, n.RecipientID, n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := b.pub.Publish(ctx, b.channel, evt); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Channel returns the channel notifications are published on.
func (b *BusNotifier) Channel() string {
	return b.channel
}

var _ Notifier = (*BusNotifier)(nil)
