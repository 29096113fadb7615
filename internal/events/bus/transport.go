package bus

import (
	"context"
	"sync"

	"github.com/flowmesh/core/internal/common/config"
	"github.com/flowmesh/core/internal/common/kafka"
	"github.com/flowmesh/core/internal/common/logger"
)

// Transport is the narrow Kafka surface the bus needs: publish raw bytes to
// a topic, and run a consumer-group loop per topic. Bus depends on this
// interface rather than *kafka.Producer/*kafka.Consumer directly so tests
// can substitute an in-memory transport.
type Transport interface {
	PublishEvent(ctx context.Context, topic string, key string, value []byte) error
	Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, key, value []byte) error) error
	Close() error
}

// kafkaTransport adapts internal/common/kafka's Producer/Consumer pair to
// the Transport interface, opening one consumer per topic on demand.
type kafkaTransport struct {
	cfg      config.KafkaConfig
	producer *kafka.Producer
	logger   *logger.Logger

	mu        sync.Mutex
	consumers []*kafka.Consumer
}

func NewKafkaTransport(cfg config.KafkaConfig, log *logger.Logger) Transport {
	return &kafkaTransport{
		cfg:      cfg,
		producer: kafka.NewProducer(cfg, log),
		logger:   log,
	}
}

func (t *kafkaTransport) PublishEvent(ctx context.Context, topic string, key string, value []byte) error {
	return t.producer.PublishEvent(ctx, topic, key, value)
}

func (t *kafkaTransport) Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, key, value []byte) error) error {
	cfg := t.cfg
	if groupID != "" {
		cfg.GroupID = groupID
	}
	consumer := kafka.NewConsumer(cfg, topic, t.logger)
	t.mu.Lock()
	t.consumers = append(t.consumers, consumer)
	t.mu.Unlock()

	return consumer.Consume(ctx, func(ctx context.Context, key, value []byte) error {
		return handler(ctx, key, value)
	})
}

func (t *kafkaTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	for _, c := range t.consumers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := t.producer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
