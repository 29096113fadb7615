package ratelimit

import (
	"context"
	"time"
)

type fixedWindowState struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// FixedWindow counts requests in discrete, non-overlapping windows. Simple
// and cheap but allows up to 2x requests_per_window across a window boundary.
type FixedWindow struct {
	cfg   Config
	store Store
}

func (w *FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	unlock, err := w.store.Lock(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	defer unlock()

	now := time.Now()
	var state fixedWindowState
	found, err := w.store.Load(ctx, key, &state)
	if err != nil {
		return Decision{}, err
	}

	windowStart := now.Truncate(w.cfg.WindowSize)
	if !found || state.WindowStart.Before(windowStart) {
		state = fixedWindowState{Count: 0, WindowStart: windowStart}
	}

	allowed := state.Count < w.cfg.RequestsPerWindow
	if allowed {
		state.Count++
	}

	if err := w.store.Save(ctx, key, state, w.cfg.StateTTL); err != nil {
		return Decision{}, err
	}

	remaining := w.cfg.RequestsPerWindow - state.Count
	if remaining < 0 {
		remaining = 0
	}
	resetAt := state.WindowStart.Add(w.cfg.WindowSize)

	return buildDecision(allowed, w.cfg.RequestsPerWindow, remaining, resetAt, w.cfg), nil
}
