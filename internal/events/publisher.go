// Package events publishes proxy usage events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"expense-tracker-proxy/internal/config"
	"expense-tracker-proxy/internal/models"
)

// Publisher accepts usage events. Implementations must not block the caller
// on broker availability.
type Publisher interface {
	Publish(ctx context.Context, event models.UsageEvent) error
	Close() error
}

// New returns a Kafka publisher when brokers are configured, otherwise a no-op one
func New(configuration *config.Config, logger *logrus.Logger) Publisher {
	if !configuration.KafkaEnabled() {
		return NopPublisher{}
	}
	return NewKafkaPublisher(configuration.KafkaBrokers, configuration.KafkaTopic, logger)
}

// NopPublisher discards every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.UsageEvent) error { return nil }
func (NopPublisher) Close() error                                     { return nil }

// messageWriter is the subset of *kafka.Writer the publisher needs
type messageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON usage events to a Kafka topic
type KafkaPublisher struct {
	writer messageWriter
	logger *logrus.Logger
}

// NewKafkaPublisher creates an asynchronous Kafka writer for topic
func NewKafkaPublisher(brokers []string, topic string, logger *logrus.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.WithError(err).WithField("count", len(messages)).Warn("Failed to deliver usage events")
			}
		},
	}

	logger.Infof("Usage events will be published to Kafka topic %s", topic)

	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish encodes the event and hands it to the writer keyed by service name
func (p *KafkaPublisher) Publish(ctx context.Context, event models.UsageEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal usage event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.Service),
		Value: payload,
		Time:  event.Timestamp,
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.logger.WithError(err).WithField("service", event.Service).Warn("Failed to publish usage event")
		return fmt.Errorf("failed to publish usage event: %w", err)
	}

	return nil
}

// Close flushes pending events and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
