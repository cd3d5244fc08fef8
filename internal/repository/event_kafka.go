package repository

import (
	"context"
	"fmt"

	"SqueezeWatch/internal/domain/models"
	domrepo "SqueezeWatch/internal/domain/repository"
	pkgkafka "SqueezeWatch/pkg/kafka"
)

// KafkaEventPublisher writes history events to a Kafka topic, keyed by symbol
// so per-symbol ordering survives partitioning.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) (*KafkaEventPublisher, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	return &KafkaEventPublisher{producer: producer, topic: topic}, nil
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, e *models.HistoryEvent) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(e.Symbol), e); err != nil {
		return fmt.Errorf("publish %s event for %s: %w", e.Kind, e.Symbol, err)
	}
	return nil
}

func (p *KafkaEventPublisher) PublishBatch(ctx context.Context, events []*models.HistoryEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(events))
	for _, e := range events {
		msgs = append(msgs, pkgkafka.Message{Key: []byte(e.Symbol), Value: e})
	}
	if err := p.producer.PublishBatch(ctx, p.topic, msgs); err != nil {
		return fmt.Errorf("publish batch of %d events: %w", len(events), err)
	}
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
