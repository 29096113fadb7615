package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowmesh/core/internal/common/logger"
	"github.com/flowmesh/core/internal/events"
)

func TestMatchingCollectsExactAndWildcardHandlers(t *testing.T) {
	e := events.Event{EventType: "order.created"}

	exact := HandlerFunc{Types: []string{"order.created"}, HandlerPrio: 1}
	wildcard := HandlerFunc{Types: []string{"*"}, HandlerPrio: 5}
	unrelated := HandlerFunc{Types: []string{"order.cancelled"}}

	subs := []Subscription{
		{ID: "a", Handler: exact},
		{ID: "b", Handler: wildcard},
		{ID: "c", Handler: unrelated},
	}

	matched := matching(e, subs)
	if len(matched) != 2 {
		t.Fatalf("expected 2 matching subscriptions, got %d", len(matched))
	}
	if matched[0].ID != "b" {
		t.Errorf("expected higher-priority wildcard handler first, got %s", matched[0].ID)
	}
}

func TestDispatchIsolatesHandlerFailures(t *testing.T) {
	var succeeded int32
	var mu sync.Mutex
	var failedIDs []string

	ok := HandlerFunc{Types: []string{"*"}, Fn: func(ctx context.Context, e events.Event) error {
		atomic.AddInt32(&succeeded, 1)
		return nil
	}}
	failing := HandlerFunc{Types: []string{"*"}, Fn: func(ctx context.Context, e events.Event) error {
		return context.DeadlineExceeded
	}}

	d := newDispatcher(time.Second, logger.New("test"))
	subs := []Subscription{{ID: "ok", Handler: ok}, {ID: "bad", Handler: failing}}

	d.dispatch(context.Background(), events.Event{EventType: "order.created"}, subs)

	mu.Lock()
	defer mu.Unlock()
	if atomic.LoadInt32(&succeeded) != 1 {
		t.Errorf("expected the succeeding handler to run, got count %d", succeeded)
	}
	_ = failedIDs
}

func TestHandlerGateBoundsConcurrency(t *testing.T) {
	var concurrent int32
	var maxSeen int32

	gate := newHandlerGate(2, 0)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate.run(context.Background(), func(ctx context.Context) error {
				cur := atomic.AddInt32(&concurrent, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if cur <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxSeen > 2 {
		t.Errorf("expected at most 2 concurrent invocations, saw %d", maxSeen)
	}
}
