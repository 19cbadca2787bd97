package repository

import (
	"context"
	"fmt"

	"ZepixTrader/internal/domain/models"
)

// publisher is the slice of *kafka.Producer the sink needs.
type publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaEventSink publishes engine events keyed by symbol so consumers see
// one symbol's events in order.
type KafkaEventSink struct {
	producer publisher
	topic    string
}

func NewKafkaEventSink(p publisher, topic string) *KafkaEventSink {
	return &KafkaEventSink{producer: p, topic: topic}
}

func (s *KafkaEventSink) Name() string { return "kafka" }

func (s *KafkaEventSink) Send(ctx context.Context, e models.Event) error {
	key := e.Symbol
	if key == "" {
		key = string(e.Type)
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(key), e); err != nil {
		return fmt.Errorf("publish event %s: %w", e.Type, err)
	}
	return nil
}
