package ratelimit

import (
	"context"
	"time"
)

type slidingWindowLogState struct {
	Timestamps []time.Time `json:"timestamps"`
}

// SlidingWindowLog keeps an exact per-request timestamp log and counts
// entries within the trailing window. Precise but O(requests_per_window)
// storage per key.
type SlidingWindowLog struct {
	cfg   Config
	store Store
}

func (w *SlidingWindowLog) Allow(ctx context.Context, key string) (Decision, error) {
	unlock, err := w.store.Lock(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	defer unlock()

	now := time.Now()
	cutoff := now.Add(-w.cfg.WindowSize)

	var state slidingWindowLogState
	if _, err := w.store.Load(ctx, key, &state); err != nil {
		return Decision{}, err
	}

	kept := state.Timestamps[:0]
	for _, ts := range state.Timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	state.Timestamps = kept

	allowed := len(state.Timestamps) < w.cfg.RequestsPerWindow
	if allowed {
		state.Timestamps = append(state.Timestamps, now)
	}

	if err := w.store.Save(ctx, key, state, w.cfg.StateTTL); err != nil {
		return Decision{}, err
	}

	remaining := w.cfg.RequestsPerWindow - len(state.Timestamps)
	if remaining < 0 {
		remaining = 0
	}

	var resetAt time.Time
	if len(state.Timestamps) > 0 {
		resetAt = state.Timestamps[0].Add(w.cfg.WindowSize)
	} else {
		resetAt = now.Add(w.cfg.WindowSize)
	}

	return buildDecision(allowed, w.cfg.RequestsPerWindow, remaining, resetAt, w.cfg), nil
}
