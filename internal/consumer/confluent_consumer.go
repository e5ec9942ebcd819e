package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	pkglog "github.com/iolipix/JuriNapse-sub001/pkg/log"
)

// ConfluentConsumer feeds user lifecycle events from Kafka to a handler.
type ConfluentConsumer struct {
	consumer *kafka.Consumer
	topic    string
	handler  UserEventHandler
	logger   zerolog.Logger
	doneCh   chan struct{}
}

// NewConfluentConsumer creates a new Kafka consumer for lifecycle events.
func NewConfluentConsumer(brokers, topic, groupID string, handler UserEventHandler) (*ConfluentConsumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &ConfluentConsumer{
		consumer: c,
		topic:    topic,
		handler:  handler,
		logger:   pkglog.Component("user-event-consumer"),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start subscribes and consumes in the background until ctx is cancelled.
func (cc *ConfluentConsumer) Start(ctx context.Context) error {
	if err := cc.consumer.Subscribe(cc.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", cc.topic, err)
	}

	cc.logger.Info().Str("topic", cc.topic).Msg("user event consumer started")

	go cc.consumeLoop(ctx)

	return nil
}

func (cc *ConfluentConsumer) consumeLoop(ctx context.Context) {
	defer close(cc.doneCh)

	for {
		select {
		case <-ctx.Done():
			cc.logger.Info().Msg("user event consumer shutting down")
			return
		default:
			msg, err := cc.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				var kerr kafka.Error
				if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				cc.logger.Error().Err(err).Msg("user event consumer error")
				continue
			}

			// In-flight events finish even when shutdown starts.
			cc.processMessage(context.WithoutCancel(ctx), msg.Value)
		}
	}
}

// processMessage decodes and applies one message. Malformed messages are
// logged and skipped so one bad record cannot stall the partition.
func (cc *ConfluentConsumer) processMessage(ctx context.Context, value []byte) {
	var event UserEvent
	if err := json.Unmarshal(value, &event); err != nil {
		cc.logger.Error().Err(err).Msg("failed to unmarshal user event")
		return
	}
	if event.UserID == "" {
		cc.logger.Warn().Str("type", event.Type).Msg("user event without user_id, skipping")
		return
	}

	l := cc.logger.With().
		Str(pkglog.FieldRequestID, uuid.NewString()).
		Str("event_type", event.Type).
		Str(pkglog.FieldUserID, event.UserID).
		Logger()
	ctx = pkglog.WithLogger(ctx, l)

	l.Info().Msg("received user event")

	if err := cc.handler.HandleUserEvent(ctx, &event); err != nil {
		l.Error().Err(err).Msg("failed to handle user event")
	}
}

// Close waits for the loop to exit, then closes the consumer.
func (cc *ConfluentConsumer) Close() error {
	<-cc.doneCh
	if err := cc.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	return nil
}

var _ UserEventConsumer = (*ConfluentConsumer)(nil)
