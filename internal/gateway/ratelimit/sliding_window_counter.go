package ratelimit

import (
	"context"
	"time"
)

type slidingWindowCounterState struct {
	CurrentCount       int       `json:"current_count"`
	CurrentWindowStart time.Time `json:"current_window_start"`
	PreviousCount      int       `json:"previous_count"`
}

// SlidingWindowCounter approximates a sliding log by weighting the previous
// fixed window's count by how much of it still overlaps the trailing window.
// Constant storage per key, bounded error versus SlidingWindowLog.
type SlidingWindowCounter struct {
	cfg   Config
	store Store
}

func (w *SlidingWindowCounter) Allow(ctx context.Context, key string) (Decision, error) {
	unlock, err := w.store.Lock(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	defer unlock()

	now := time.Now()
	windowStart := now.Truncate(w.cfg.WindowSize)

	var state slidingWindowCounterState
	found, err := w.store.Load(ctx, key, &state)
	if err != nil {
		return Decision{}, err
	}

	if !found {
		state = slidingWindowCounterState{CurrentWindowStart: windowStart}
	} else if state.CurrentWindowStart.Before(windowStart) {
		if state.CurrentWindowStart.Add(w.cfg.WindowSize).Equal(windowStart) {
			state.PreviousCount = state.CurrentCount
		} else {
			state.PreviousCount = 0
		}
		state.CurrentCount = 0
		state.CurrentWindowStart = windowStart
	}

	elapsedInWindow := now.Sub(state.CurrentWindowStart).Seconds()
	weight := 1 - elapsedInWindow/w.cfg.WindowSize.Seconds()
	if weight < 0 {
		weight = 0
	}
	estimate := float64(state.PreviousCount)*weight + float64(state.CurrentCount)

	allowed := estimate < float64(w.cfg.RequestsPerWindow)
	if allowed {
		state.CurrentCount++
	}

	if err := w.store.Save(ctx, key, state, w.cfg.StateTTL); err != nil {
		return Decision{}, err
	}

	remaining := w.cfg.RequestsPerWindow - int(estimate)
	if remaining < 0 {
		remaining = 0
	}
	resetAt := state.CurrentWindowStart.Add(w.cfg.WindowSize)

	return buildDecision(allowed, w.cfg.RequestsPerWindow, remaining, resetAt, w.cfg), nil
}
