package ratelimit

import (
	"context"
	"time"
)

// tokenBucketState is the only thing persisted per key.
type tokenBucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

// TokenBucket allows bursts up to capacity (requests_per_window + burst_size)
// and refills continuously at requests_per_window / window_size.
type TokenBucket struct {
	cfg   Config
	store Store
}

func (b *TokenBucket) capacity() float64 {
	return float64(b.cfg.RequestsPerWindow + b.cfg.BurstSize)
}

func (b *TokenBucket) refillRate() float64 {
	return float64(b.cfg.RequestsPerWindow) / b.cfg.WindowSize.Seconds()
}

func (b *TokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	unlock, err := b.store.Lock(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	defer unlock()

	now := time.Now()
	var state tokenBucketState
	found, err := b.store.Load(ctx, key, &state)
	if err != nil {
		return Decision{}, err
	}
	if !found {
		state = tokenBucketState{Tokens: b.capacity(), LastRefill: now}
	}

	elapsed := now.Sub(state.LastRefill).Seconds()
	if elapsed > 0 {
		state.Tokens += elapsed * b.refillRate()
		if cap := b.capacity(); state.Tokens > cap {
			state.Tokens = cap
		}
		state.LastRefill = now
	}

	allowed := state.Tokens >= 1
	if allowed {
		state.Tokens -= 1
	}

	if err := b.store.Save(ctx, key, state, b.cfg.StateTTL); err != nil {
		return Decision{}, err
	}

	remaining := int(state.Tokens)
	var resetAt time.Time
	if state.Tokens < 1 {
		missing := 1 - state.Tokens
		resetAt = now.Add(time.Duration(missing/b.refillRate()*float64(time.Second)))
	} else {
		resetAt = now
	}

	return buildDecision(allowed, b.cfg.RequestsPerWindow+b.cfg.BurstSize, remaining, resetAt, b.cfg), nil
}
