package ratelimit

import (
	"context"
	"time"
)

type leakyBucketState struct {
	Level    float64   `json:"level"`
	LastLeak time.Time `json:"last_leak"`
}

// LeakyBucket queues requests at a constant outflow rate; the bucket level
// represents work queued but not yet drained. Requests that would overflow
// capacity are rejected rather than queued, since the gateway does not hold
// connections open to smooth bursts itself.
type LeakyBucket struct {
	cfg   Config
	store Store
}

func (b *LeakyBucket) capacity() float64 {
	return float64(b.cfg.RequestsPerWindow + b.cfg.BurstSize)
}

func (b *LeakyBucket) leakRate() float64 {
	return float64(b.cfg.RequestsPerWindow) / b.cfg.WindowSize.Seconds()
}

func (b *LeakyBucket) Allow(ctx context.Context, key string) (Decision, error) {
	unlock, err := b.store.Lock(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	defer unlock()

	now := time.Now()
	var state leakyBucketState
	found, err := b.store.Load(ctx, key, &state)
	if err != nil {
		return Decision{}, err
	}
	if !found {
		state = leakyBucketState{Level: 0, LastLeak: now}
	}

	elapsed := now.Sub(state.LastLeak).Seconds()
	if elapsed > 0 {
		state.Level -= elapsed * b.leakRate()
		if state.Level < 0 {
			state.Level = 0
		}
		state.LastLeak = now
	}

	allowed := state.Level+1 <= b.capacity()
	if allowed {
		state.Level += 1
	}

	if err := b.store.Save(ctx, key, state, b.cfg.StateTTL); err != nil {
		return Decision{}, err
	}

	remaining := int(b.capacity() - state.Level)
	resetAt := now
	if !allowed {
		overflow := state.Level + 1 - b.capacity()
		resetAt = now.Add(time.Duration(overflow / b.leakRate() * float64(time.Second)))
	}

	return buildDecision(allowed, b.cfg.RequestsPerWindow+b.cfg.BurstSize, remaining, resetAt, b.cfg), nil
}
