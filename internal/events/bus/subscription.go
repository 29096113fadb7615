package bus

import (
	"context"

	"github.com/google/uuid"

	"github.com/flowmesh/core/internal/events"
)

// Handler processes a single matched event. Returning an error only logs;
// it never blocks sibling handlers or retains the consumer offset, per
// spec.md §4.1 dispatch rules.
type Handler interface {
	Handle(ctx context.Context, e events.Event) error
	// CanHandle lets a handler opt out of an individual event even though it
	// is subscribed to the event's type, e.g. a handler that only cares
	// about a payload sub-field.
	CanHandle(e events.Event) bool
	// EventTypes lists the topics this handler's subscription spans. "*"
	// receives events from every topic the bus consumes for some other
	// subscription.
	EventTypes() []string
	// Priority orders concurrent dispatch among handlers matching the same
	// event; higher runs first.
	Priority() int
	// Concurrency bounds how many invocations of this handler may be in
	// flight at once.
	Concurrency() int
}

// HandlerFunc adapts a plain function to the Handler interface for handlers
// that don't need CanHandle/Priority/Concurrency customization.
type HandlerFunc struct {
	Fn            func(ctx context.Context, e events.Event) error
	Types         []string
	HandlerPrio   int
	MaxConcurrent int
}

func (h HandlerFunc) Handle(ctx context.Context, e events.Event) error { return h.Fn(ctx, e) }
func (h HandlerFunc) CanHandle(e events.Event) bool                   { return true }
func (h HandlerFunc) EventTypes() []string                            { return h.Types }
func (h HandlerFunc) Priority() int                                   { return h.HandlerPrio }
func (h HandlerFunc) Concurrency() int {
	if h.MaxConcurrent <= 0 {
		return 1
	}
	return h.MaxConcurrent
}

// Subscription is a registered handler, optionally scoped to a Filter and
// tagged with a plugin identity so all of a plugin's subscriptions can be
// torn down together.
type Subscription struct {
	ID       string
	Handler  Handler
	Filter   *events.Filter
	PluginID string
	Plugin   string
}

// Matches reports whether e passes this subscription's filter (an absent
// filter matches everything).
func (s Subscription) Matches(e events.Event) bool {
	if s.Filter == nil {
		return true
	}
	return s.Filter.Matches(e)
}

func newSubscriptionID() string {
	return uuid.NewString()
}
