package bus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowmesh/core/internal/common/logger"
	"github.com/flowmesh/core/internal/events"
)

// handlerGate bounds in-flight invocations of one handler to its declared
// concurrency, and times out individual invocations at timeout.
type handlerGate struct {
	sem     chan struct{}
	timeout time.Duration
}

func newHandlerGate(concurrency int, timeout time.Duration) *handlerGate {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &handlerGate{sem: make(chan struct{}, concurrency), timeout: timeout}
}

func (g *handlerGate) run(ctx context.Context, fn func(ctx context.Context) error) error {
	g.sem <- struct{}{}
	defer func() { <-g.sem }()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return fn(ctx)
}

// dispatcher fans an inbound event out to every matching subscription,
// respecting each handler's own concurrency gate, per spec.md §4.1 dispatch.
type dispatcher struct {
	mu            sync.Mutex
	gates         map[string]*handlerGate // subscription id -> gate
	handlerTimeout time.Duration
	logger        *logger.Logger
}

func newDispatcher(handlerTimeout time.Duration, log *logger.Logger) *dispatcher {
	return &dispatcher{gates: map[string]*handlerGate{}, handlerTimeout: handlerTimeout, logger: log}
}

func (d *dispatcher) gateFor(sub Subscription) *handlerGate {
	d.mu.Lock()
	defer d.mu.Unlock()

	if g, ok := d.gates[sub.ID]; ok {
		return g
	}
	g := newHandlerGate(sub.Handler.Concurrency(), d.handlerTimeout)
	d.gates[sub.ID] = g
	return g
}

// matching collects subscriptions whose handler is registered for e's event
// type (or "*") and whose filter matches, sorted by handler priority
// descending.
func matching(e events.Event, subs []Subscription) []Subscription {
	var out []Subscription
	for _, s := range subs {
		if !subscribesTo(s.Handler, e.EventType) {
			continue
		}
		if !s.Matches(e) {
			continue
		}
		if !s.Handler.CanHandle(e) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Handler.Priority() > out[j].Handler.Priority()
	})
	return out
}

func subscribesTo(h Handler, eventType string) bool {
	for _, t := range h.EventTypes() {
		if t == "*" || t == eventType {
			return true
		}
	}
	return false
}

// dispatch runs every matching subscription's handler concurrently. A
// handler's failure is logged and does not block or cancel its siblings.
func (d *dispatcher) dispatch(ctx context.Context, e events.Event, subs []Subscription) {
	matched := matching(e, subs)
	if len(matched) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range matched {
		sub := sub
		gate := d.gateFor(sub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := gate.run(ctx, func(ctx context.Context) error {
				return sub.Handler.Handle(ctx, e)
			})
			if err != nil {
				d.logger.Errorf("event bus handler failed for %s (subscription %s): %v", e.EventType, sub.ID, err)
			}
		}()
	}
	wg.Wait()
}
