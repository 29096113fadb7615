// Package bus implements the event bus: publish (direct, transactional,
// batched, scheduled), subscribe/unsubscribe with filter matching, and
// concurrent handler dispatch over a Kafka-backed transport.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flowmesh/core/internal/common/config"
	"github.com/flowmesh/core/internal/common/logger"
	"github.com/flowmesh/core/internal/events"
	"github.com/flowmesh/core/internal/events/codec"
	"github.com/flowmesh/core/internal/events/outbox"
)

// Bus is the process-wide event bus. It is constructed once per service and
// passed down explicitly; there is no package-level singleton.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string][]Subscription // topic -> subscriptions
	consumedAt map[string]bool           // topic -> consumer loop already started

	transport  Transport
	outboxStore *outbox.Store
	dispatcher *dispatcher
	logger     *logger.Logger
	cfg        config.OutboxConfig

	cancelConsumers context.CancelFunc
	consumerCtx     context.Context
	wg              sync.WaitGroup
}

// New constructs a Bus over the given transport and outbox store. handlerTimeout
// bounds an individual handler invocation.
func New(transport Transport, outboxStore *outbox.Store, log *logger.Logger, cfg config.OutboxConfig, handlerTimeout time.Duration) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:            map[string][]Subscription{},
		consumedAt:      map[string]bool{},
		transport:       transport,
		outboxStore:     outboxStore,
		dispatcher:      newDispatcher(handlerTimeout, log),
		logger:          log,
		cfg:             cfg,
		consumerCtx:     ctx,
		cancelConsumers: cancel,
	}
}

// Publish publishes an event directly to Kafka, bypassing the outbox. Use
// PublishTransactional when the event must only appear iff a business write
// commits.
func (b *Bus) Publish(ctx context.Context, e events.Event) error {
	if e.Expired(time.Now()) {
		return fmt.Errorf("bus: event %s expired before publish", e.EventID)
	}

	encoded, err := codec.Encode(e)
	if err != nil {
		return err
	}

	topic := events.TopicFor(e.EventType)
	return b.transport.PublishEvent(ctx, topic, e.EventID, encoded)
}

// PublishTransactional inserts an outbox row inside the caller's DB
// transaction. The event reaches Kafka iff tx commits and the outbox
// processor later succeeds; see internal/events/outbox.
func (b *Bus) PublishTransactional(ctx context.Context, tx *sqlx.Tx, e events.Event) error {
	encoded, err := codec.Encode(e)
	if err != nil {
		return err
	}

	row := outbox.NewFromEvent(e, encoded, b.cfg.DefaultMaxAttempts, nil, nil)
	return b.outboxStore.SaveEvent(ctx, tx, &row)
}

// PublishScheduled requires the outbox: it sets scheduled_at so the
// processor only picks the row up once scheduled_at <= now.
func (b *Bus) PublishScheduled(ctx context.Context, tx *sqlx.Tx, e events.Event, when time.Time) error {
	encoded, err := codec.Encode(e)
	if err != nil {
		return err
	}

	row := outbox.NewFromEvent(e, encoded, b.cfg.DefaultMaxAttempts, &when, nil)
	return b.outboxStore.SaveEvent(ctx, tx, &row)
}

// PublishBatch publishes every event concurrently and waits for all of
// them, returning the first error encountered (others still run to
// completion).
func (b *Bus) PublishBatch(ctx context.Context, evts []events.Event) error {
	errs := make([]error, len(evts))
	var wg sync.WaitGroup
	for i, e := range evts {
		i, e := i, e
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = b.Publish(ctx, e)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers handler, optionally narrowed by filter, and ensures a
// consumer loop is running for each topic the handler's event types
// reference.
func (b *Bus) Subscribe(handler Handler, filter *events.Filter) (string, error) {
	return b.subscribe(handler, filter, "", "")
}

// SubscribePlugin is Subscribe tagged with a plugin identity, so
// UnsubscribeAllForPlugin can tear every subscription down at once when the
// plugin unloads.
func (b *Bus) SubscribePlugin(pluginID, pluginName string, handler Handler, filter *events.Filter) (string, error) {
	return b.subscribe(handler, filter, pluginID, pluginName)
}

func (b *Bus) subscribe(handler Handler, filter *events.Filter, pluginID, pluginName string) (string, error) {
	sub := Subscription{
		ID:       newSubscriptionID(),
		Handler:  handler,
		Filter:   filter,
		PluginID: pluginID,
		Plugin:   pluginName,
	}

	topics := topicsFor(handler.EventTypes())
	wildcard := false
	for _, t := range handler.EventTypes() {
		if t == "*" {
			wildcard = true
		}
	}

	b.mu.Lock()
	if wildcard {
		b.subs["*"] = append(b.subs["*"], sub)
	} else {
		for _, topic := range topics {
			b.subs[topic] = append(b.subs[topic], sub)
		}
	}
	b.mu.Unlock()

	for _, topic := range topics {
		if err := b.ensureConsumer(topic); err != nil {
			return "", err
		}
	}

	return sub.ID, nil
}

// topicsFor maps a handler's declared event types onto concrete topics.
// "*" is kept as a literal marker — dispatch still filters per-event, but a
// wildcard subscription only consumes topics some OTHER subscription has
// already opened, since Kafka requires naming a concrete topic to consume.
func topicsFor(eventTypes []string) []string {
	var topics []string
	for _, t := range eventTypes {
		if t == "*" {
			continue
		}
		topics = append(topics, events.TopicFor(t))
	}
	return topics
}

func (b *Bus) ensureConsumer(topic string) error {
	b.mu.Lock()
	if b.consumedAt[topic] {
		b.mu.Unlock()
		return nil
	}
	b.consumedAt[topic] = true
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		err := b.transport.Consume(b.consumerCtx, topic, "", func(ctx context.Context, key, value []byte) error {
			return b.handleMessage(ctx, topic, value)
		})
		if err != nil && err != context.Canceled {
			b.logger.Errorf("bus consumer for topic %s stopped: %v", topic, err)
		}
	}()
	return nil
}

func (b *Bus) handleMessage(ctx context.Context, topic string, value []byte) error {
	e, err := codec.Decode(value)
	if err != nil {
		b.logger.Errorf("bus failed to decode message on topic %s: %v", topic, err)
		return nil // poison message; don't redeliver forever
	}

	if e.Expired(time.Now()) {
		b.logger.Warnf("bus dropped expired event %s (%s)", e.EventID, e.EventType)
		return nil
	}

	b.mu.RLock()
	subs := append([]Subscription(nil), b.subs[topic]...)
	subs = append(subs, b.subs["*"]...)
	b.mu.RUnlock()

	b.dispatcher.dispatch(ctx, e, subs)
	return nil
}

// Unsubscribe removes a single subscription. The topic's consumer loop
// keeps running if other handlers still reference it.
func (b *Bus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		filtered := subs[:0]
		for _, s := range subs {
			if s.ID != subscriptionID {
				filtered = append(filtered, s)
			}
		}
		b.subs[topic] = filtered
	}
}

// UnsubscribeAllForPlugin removes every subscription tagged with pluginID.
func (b *Bus) UnsubscribeAllForPlugin(pluginID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		filtered := subs[:0]
		for _, s := range subs {
			if s.PluginID != pluginID {
				filtered = append(filtered, s)
			}
		}
		b.subs[topic] = filtered
	}
}

// RetryDeadLetter re-enqueues a dead-lettered event for publish.
func (b *Bus) RetryDeadLetter(ctx context.Context, dlqID string) (bool, error) {
	err := b.outboxStore.RetryDeadLetter(ctx, dlqID)
	if err == outbox.ErrDLQNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetDeadLetters returns a read-only snapshot of dead-lettered events.
func (b *Bus) GetDeadLetters(ctx context.Context, limit int, eventType string) ([]outbox.DeadLetterEvent, error) {
	return b.outboxStore.GetDeadLetters(ctx, limit, eventType)
}

// Stop cancels every consumer loop and waits, up to shutdownTimeout, for
// in-flight handlers to drain.
func (b *Bus) Stop(shutdownTimeout time.Duration) error {
	b.cancelConsumers()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		b.logger.Warn("bus shutdown timed out waiting for consumers to drain")
	}

	return b.transport.Close()
}
