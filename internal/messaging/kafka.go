package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/config"
	"github.com/temcen/giftwise/pkg/models"
)

const DefaultRecommendationEventsTopic = "recommendation-events"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher forwards recommendation events to Kafka for downstream
// analytics. Messages are keyed by session id so one session's events stay
// ordered within a partition.
type EventPublisher struct {
	writer messageWriter
	topic  string
	logger *logrus.Logger
}

func NewEventPublisher(cfg *config.Config, logger *logrus.Logger) (*EventPublisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	topic := cfg.Kafka.Topics.RecommendationEvents
	if topic == "" {
		topic = DefaultRecommendationEventsTopic
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	return newEventPublisher(writer, topic, logger), nil
}

func newEventPublisher(writer messageWriter, topic string, logger *logrus.Logger) *EventPublisher {
	return &EventPublisher{
		writer: writer,
		topic:  topic,
		logger: logger,
	}
}

func (p *EventPublisher) PublishEvents(ctx context.Context, events []models.RecommendationEvent) error {
	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
		}

		messages = append(messages, kafka.Message{
			Key:   []byte(event.SessionID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(event.ID.String())},
				{Key: "action", Value: []byte(event.Action)},
				{Key: "timestamp", Value: []byte(event.CreatedAt.Format(time.RFC3339))},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("failed to write %d events to Kafka: %w", len(messages), err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic": p.topic,
		"count": len(messages),
	}).Debug("Recommendation events published")

	return nil
}

func (p *EventPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close event publisher: %w", err)
	}
	return nil
}
