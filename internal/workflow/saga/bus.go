// Package saga couples the workflow engine to the event bus: a Saga is a
// WorkflowDefinition whose ACTION steps send commands to other services and
// WAIT for correlated reply events, so a failure partway through rolls back
// via ordinary workflow compensation instead of a two-phase commit.
package saga

import (
	"context"
	"fmt"

	"github.com/flowmesh/core/internal/events"
	"github.com/flowmesh/core/internal/events/bus"
)

// EventPublisher is the narrow slice of *bus.Bus a SagaEventBus needs.
type EventPublisher interface {
	Publish(ctx context.Context, e events.Event) error
	Subscribe(handler bus.Handler, filter *events.Filter) (string, error)
	Unsubscribe(subscriptionID string)
}

// SagaEventBus is a thin facade over the event bus scoped to one saga
// instance: every event it sends or matches carries correlation_id = sagaID.
type SagaEventBus struct {
	sagaID  string
	sagaType string
	bus     EventPublisher
	source  string
}

func NewSagaEventBus(sagaID, sagaType string, b EventPublisher, sourceService string) *SagaEventBus {
	return &SagaEventBus{sagaID: sagaID, sagaType: sagaType, bus: b, source: sourceService}
}

// SendCommand publishes a command event to targetService, tagged with the
// saga's correlation id and the originating step so the reply can be routed
// back to the right WAIT step.
func (s *SagaEventBus) SendCommand(ctx context.Context, stepID, commandType string, payload interface{}) error {
	eventType := fmt.Sprintf("saga.%s.%s", s.sagaType, commandType)
	e := events.New(eventType, payload, events.Metadata{
		CorrelationID: s.sagaID,
		SourceService: s.source,
		Headers:       map[string]string{"step_id": stepID},
	})
	return s.bus.Publish(ctx, e)
}

// SubscribeReply registers handler for replyType events carrying this saga's
// correlation id, so two concurrent sagas of the same type never cross wires.
func (s *SagaEventBus) SubscribeReply(replyType string, handler func(ctx context.Context, e events.Event) error) (string, error) {
	eventType := fmt.Sprintf("saga.%s.%s", s.sagaType, replyType)
	sagaID := s.sagaID
	h := bus.HandlerFunc{
		Fn:    handler,
		Types: []string{eventType},
	}
	filter := &events.Filter{CorrelationIDs: []string{sagaID}}
	return s.bus.Subscribe(h, filter)
}

func (s *SagaEventBus) Unsubscribe(subscriptionID string) {
	s.bus.Unsubscribe(subscriptionID)
}
