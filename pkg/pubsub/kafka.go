package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"

	pkglog "github.com/iolipix/JuriNapse-sub001/pkg/log"
)

// KafkaTopic maps a bus channel name to a Kafka topic name.
//
//	"graph:notifications" → "graph-notifications"
func KafkaTopic(channel string) string {
	return strings.ReplaceAll(channel, ":", "-")
}

// KafkaPublisher publishes events as Kafka messages keyed by Event.Key, so
// every event for one key lands on the same partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	config   KafkaConfig
	logger   zerolog.Logger
	doneCh   chan struct{}
}

// NewKafkaPublisher creates a producer and makes sure topics exist.
func NewKafkaPublisher(cfg KafkaConfig, topics ...string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &KafkaPublisher{
		producer: p,
		config:   cfg,
		logger:   pkglog.Component("kafka-publisher"),
		doneCh:   make(chan struct{}),
	}

	go kp.deliveryReportHandler()

	if len(topics) > 0 {
		if err := kp.ensureTopics(topics); err != nil {
			kp.logger.Warn().Err(err).Msg("failed to ensure kafka topics (may already exist)")
		}
	}

	return kp, nil
}

func (k *KafkaPublisher) ensureTopics(channels []string) error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}
	replication := k.config.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	specs := make([]kafka.TopicSpecification, 0, len(channels))
	for _, ch := range channels {
		specs = append(specs, kafka.TopicSpecification{
			Topic:             KafkaTopic(ch),
			NumPartitions:     partitions,
			ReplicationFactor: replication,
		})
	}

	results, err := admin.CreateTopics(ctx, specs)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			k.logger.Warn().Str("topic", r.Topic).Str("error", r.Error.String()).Msg("failed to create topic")
		}
	}

	return nil
}

func (k *KafkaPublisher) deliveryReportHandler() {
	for e := range k.producer.Events() {
		if ev, ok := e.(*kafka.Message); ok && ev.TopicPartition.Error != nil {
			k.logger.Error().Err(ev.TopicPartition.Error).Msg("kafka delivery failed")
		}
	}
	close(k.doneCh)
}

// Publish enqueues the event; delivery failures are reported asynchronously.
func (k *KafkaPublisher) Publish(ctx context.Context, channel string, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := KafkaTopic(channel)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.Key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// Close flushes pending messages and closes the producer.
func (k *KafkaPublisher) Close() error {
	if remaining := k.producer.Flush(5000); remaining > 0 {
		k.logger.Warn().Int("remaining", remaining).Msg("kafka flush incomplete, dropping queued messages")
		if err := k.producer.Purge(kafka.PurgeQueue | kafka.PurgeInFlight); err != nil {
			k.logger.Warn().Err(err).Msg("kafka purge failed")
		}
	}
	k.producer.Close()
	<-k.doneCh
	return nil
}
