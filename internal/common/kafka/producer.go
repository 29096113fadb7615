// Package kafka wraps segmentio/kafka-go with the event bus's publish and
// consume-group semantics: one writer per producer, one reader per
// consumer-group/topic pair.
package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/flowmesh/core/internal/common/config"
	"github.com/flowmesh/core/internal/common/logger"
)

type Producer struct {
	writer *kafka.Writer
	logger *logger.Logger
}

// NewProducer creates a writer shared by all topics the event bus publishes
// to. kafka-go multiplexes topics per message, so one writer per process is
// enough.
func NewProducer(cfg config.KafkaConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	log.Info("Kafka producer initialized")

	return &Producer{
		writer: writer,
		logger: log,
	}
}

// newMessage builds the outgoing Kafka message. Split out from PublishEvent
// so the value-handling can be asserted without a broker connection: value
// is already the wire-encoded message body (see internal/events/codec) and
// must land in msg.Value unchanged. Re-marshaling it here (e.g. via
// json.Marshal) would base64-wrap the bytes into a JSON string and break
// every consumer's codec.Decode.
func newMessage(topic string, key string, value []byte) kafka.Message {
	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
}

// PublishEvent publishes a pre-serialized event envelope to a topic, keyed
// by aggregate/partition key so same-key events preserve ordering.
func (p *Producer) PublishEvent(ctx context.Context, topic string, key string, value []byte) error {
	msg := newMessage(topic, key, value)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Errorf("Failed to publish event to topic %s: %v", topic, err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debugf("Event published to topic %s with key %s", topic, key)
	return nil
}

func (p *Producer) Close() error {
	p.logger.Info("Closing Kafka producer")
	return p.writer.Close()
}

// Ping checks broker reachability for readiness probes.
func (p *Producer) Ping(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", p.writer.Addr.String())
	if err != nil {
		return fmt.Errorf("kafka not reachable: %w", err)
	}
	defer conn.Close()

	brokers, err := conn.Brokers()
	if err != nil {
		return fmt.Errorf("failed to get kafka brokers: %w", err)
	}

	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers available")
	}

	p.logger.Debugf("Kafka is healthy, found %d broker(s)", len(brokers))
	return nil
}
