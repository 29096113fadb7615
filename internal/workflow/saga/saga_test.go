package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowmesh/core/internal/events"
	"github.com/flowmesh/core/internal/events/bus"
	"github.com/flowmesh/core/internal/workflow"
)

type fakeBus struct {
	mu   sync.Mutex
	subs map[string]bus.Handler
	pub  []events.Event
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: map[string]bus.Handler{}}
}

func (f *fakeBus) Publish(ctx context.Context, e events.Event) error {
	f.mu.Lock()
	f.pub = append(f.pub, e)
	handlers := make([]bus.Handler, 0, len(f.subs))
	for _, h := range f.subs {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		for _, t := range h.EventTypes() {
			if t == e.EventType {
				go h.Handle(ctx, e)
			}
		}
	}
	return nil
}

func (f *fakeBus) Subscribe(handler bus.Handler, filter *events.Filter) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := time.Now().Format(time.RFC3339Nano)
	f.subs[id] = handler
	return id, nil
}

func (f *fakeBus) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

func TestSagaEventBusRoundTripsCommandAndReply(t *testing.T) {
	fb := newFakeBus()
	sagaBus := NewSagaEventBus("saga-1", "order_processing", fb, "order-service")

	received := make(chan events.Event, 1)
	subID, err := sagaBus.SubscribeReply("reserve_inventory.succeeded", func(ctx context.Context, e events.Event) error {
		received <- e
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeReply failed: %v", err)
	}
	defer sagaBus.Unsubscribe(subID)

	if err := sagaBus.SendCommand(context.Background(), "reserve", "reserve_inventory.succeeded", map[string]interface{}{"sku": "widget"}); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}

	select {
	case e := <-received:
		if e.Metadata.CorrelationID != "saga-1" {
			t.Errorf("expected correlation id saga-1, got %s", e.Metadata.CorrelationID)
		}
		if e.Metadata.Headers["step_id"] != "reserve" {
			t.Errorf("expected step_id header reserve, got %s", e.Metadata.Headers["step_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply to be delivered")
	}
}

func TestBuildCompensatesOnStepFailure(t *testing.T) {
	fb := newFakeBus()
	sagaBus := NewSagaEventBus("saga-2", "order_processing", fb, "order-service")
	replies := NewReplyStore()

	var compensated []string
	var mu sync.Mutex

	steps := []StepSpec{
		{
			StepID:                  "reserve_inventory",
			CommandType:             "reserve_inventory.requested",
			SuccessReplyType:        "reserve_inventory.succeeded",
			CompensationCommandType: "reserve_inventory.release",
		},
		{
			StepID:           "create_order",
			CommandType:      "create_order.requested",
			SuccessReplyType: "create_order.succeeded",
			FailureReplyType: "create_order.failed",
		},
	}

	// Auto-respond to each command with a success/failure reply, simulating
	// the target service, and record compensation commands.
	fb.Subscribe(bus.HandlerFunc{
		Types: []string{"saga.order_processing.reserve_inventory.requested"},
		Fn: func(ctx context.Context, e events.Event) error {
			reply := events.New("saga.order_processing.reserve_inventory.succeeded", map[string]interface{}{"ok": true}, events.Metadata{
				CorrelationID: "saga-2",
				Headers:       map[string]string{"step_id": "reserve_inventory"},
			})
			return fb.Publish(ctx, reply)
		},
	}, nil)
	fb.Subscribe(bus.HandlerFunc{
		Types: []string{"saga.order_processing.create_order.requested"},
		Fn: func(ctx context.Context, e events.Event) error {
			reply := events.New("saga.order_processing.create_order.failed", nil, events.Metadata{
				CorrelationID: "saga-2",
				Headers:       map[string]string{"step_id": "create_order"},
			})
			return fb.Publish(ctx, reply)
		},
	}, nil)
	fb.Subscribe(bus.HandlerFunc{
		Types: []string{"saga.order_processing.reserve_inventory.release"},
		Fn: func(ctx context.Context, e events.Event) error {
			mu.Lock()
			compensated = append(compensated, "reserve_inventory")
			mu.Unlock()
			return nil
		},
	}, nil)

	def := Build("order_processing", steps, sagaBus, replies)
	if len(def.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(def.Steps))
	}

	// Run the built steps directly: first succeeds, second fails, then
	// invoke its predecessor's compensator, mirroring what the engine does.
	c := workflow.NewContext("saga-2", nil)
	result1, err := def.Steps[0].Action(c)
	if err != nil || !result1.Success {
		t.Fatalf("expected reserve_inventory to succeed, got result=%+v err=%v", result1, err)
	}

	result2, err := def.Steps[1].Action(c)
	if err != nil {
		t.Fatalf("create_order action returned unexpected error: %v", err)
	}
	if result2.Success {
		t.Fatal("expected create_order to fail")
	}

	if def.Steps[0].Compensate == nil {
		t.Fatal("expected reserve_inventory to have a compensator")
	}
	if err := def.Steps[0].Compensate(c); err != nil {
		t.Fatalf("compensator failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(compensated)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(compensated) != 1 || compensated[0] != "reserve_inventory" {
		t.Errorf("expected reserve_inventory to be compensated, got %v", compensated)
	}
}
