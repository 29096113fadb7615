package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/flowmesh/core/internal/common/config"
	"github.com/flowmesh/core/internal/common/logger"
)

type Consumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

// EventHandler processes one raw Kafka message. Returning an error leaves
// the message uncommitted so the consumer-group redelivers it.
type EventHandler func(ctx context.Context, key []byte, value []byte) error

func kafkaOffset(reset string) int64 {
	if reset == "earliest" {
		return kafka.FirstOffset
	}
	return kafka.LastOffset
}

// NewConsumer opens a reader bound to one topic within cfg.GroupID, the way
// the event bus's subscribe() maps a filter's event type onto its derived
// topic name and joins the shared consumer group for that service.
func NewConsumer(cfg config.KafkaConfig, topic string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		Topic:             topic,
		MinBytes:          1,
		MaxBytes:          10e6, // 10MB
		CommitInterval:    0,    // commit explicitly, once the handler succeeds
		StartOffset:       kafkaOffset(cfg.AutoOffsetReset),
		MaxWait:           500 * time.Millisecond,
		SessionTimeout:    cfg.SessionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})

	log.Infof("Kafka consumer initialized for topic: %s", topic)

	return &Consumer{
		reader: reader,
		logger: log,
	}
}

// Consume fetches messages and calls handler for each, committing only on
// success. This gives the bus at-least-once delivery: a handler panic or
// process crash between fetch and commit redelivers the message.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	c.logger.Info("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer context cancelled")
			return ctx.Err()
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					c.logger.Info("Consumer stopped")
					return err
				}
				c.logger.Errorf("Failed to fetch message: %v", err)
				time.Sleep(1 * time.Second) // Backoff on error
				continue
			}

			c.logger.Debugf("Received message from topic %s: key=%s", msg.Topic, string(msg.Key))

			if err := handler(ctx, msg.Key, msg.Value); err != nil {
				c.logger.Errorf("Failed to process message: %v", err)
				// Don't commit on error - message will be retried
				continue
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Errorf("Failed to commit message: %v", err)
			}
		}
	}
}

func (c *Consumer) Close() error {
	c.logger.Info("Closing Kafka consumer")
	return c.reader.Close()
}

// UnmarshalEvent is a helper to unmarshal JSON events.
func UnmarshalEvent(value []byte, v interface{}) error {
	if err := json.Unmarshal(value, v); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return nil
}
