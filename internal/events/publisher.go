package events

import (
	"context"

	"poseidon/internal/adapters/kafka"
	"poseidon/internal/domain/rebalance"
	"poseidon/pkg/logger"
)

// Publisher streams rebalancer lifecycle events to Kafka as JSON, keyed by
// position id so per-position ordering is preserved within a partition.
type Publisher struct {
	producer *kafka.Producer
	topic    string
	log      *logger.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(producer *kafka.Producer, topic string) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		log:      logger.Get().With("component", "event_publisher"),
	}
}

// PublishEvent sends one lifecycle event. Implements
// rebalancer.EventPublisher.
func (p *Publisher) PublishEvent(ctx context.Context, event *rebalance.Event) error {
	if err := p.producer.Publish(ctx, p.topic, event.PositionID, event); err != nil {
		p.log.Errorw("Failed to publish lifecycle event",
			"event", event.Type,
			"position_id", event.PositionID,
			"error", err,
		)
		return err
	}
	return nil
}
