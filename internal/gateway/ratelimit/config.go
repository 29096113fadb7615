package ratelimit

import "time"

// Algorithm names the strategy a Config selects.
type Algorithm string

const (
	AlgorithmTokenBucket       Algorithm = "TOKEN_BUCKET"
	AlgorithmLeakyBucket       Algorithm = "LEAKY_BUCKET"
	AlgorithmFixedWindow       Algorithm = "FIXED_WINDOW"
	AlgorithmSlidingWindowLog  Algorithm = "SLIDING_WINDOW_LOG"
	AlgorithmSlidingWindowCtr  Algorithm = "SLIDING_WINDOW_COUNTER"
)

// Config parameterizes any of the five algorithms uniformly.
type Config struct {
	Algorithm         Algorithm
	RequestsPerWindow int
	WindowSize        time.Duration
	BurstSize         int // added to capacity by TOKEN_BUCKET and LEAKY_BUCKET
	Action            Action
	ThrottleFactor    float64 // only meaningful when Action is THROTTLE
	StateTTL          time.Duration
}

// New builds the Limiter for cfg.Algorithm backed by store.
func New(cfg Config, store Store) (Limiter, error) {
	if cfg.StateTTL == 0 {
		cfg.StateTTL = cfg.WindowSize * 2
	}
	if cfg.Action == "" {
		cfg.Action = ActionReject
	}

	switch cfg.Algorithm {
	case AlgorithmTokenBucket:
		return &TokenBucket{cfg: cfg, store: store}, nil
	case AlgorithmLeakyBucket:
		return &LeakyBucket{cfg: cfg, store: store}, nil
	case AlgorithmFixedWindow:
		return &FixedWindow{cfg: cfg, store: store}, nil
	case AlgorithmSlidingWindowLog:
		return &SlidingWindowLog{cfg: cfg, store: store}, nil
	case AlgorithmSlidingWindowCtr:
		return &SlidingWindowCounter{cfg: cfg, store: store}, nil
	default:
		return nil, &unknownAlgorithmError{cfg.Algorithm}
	}
}

type unknownAlgorithmError struct{ alg Algorithm }

func (e *unknownAlgorithmError) Error() string {
	return "ratelimit: unknown algorithm " + string(e.alg)
}

func buildDecision(allowed bool, limit, remaining int, resetAt time.Time, cfg Config) Decision {
	d := Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !allowed {
		d.Action = cfg.Action
		switch cfg.Action {
		case ActionDelay:
			d.DelaySeconds = time.Until(resetAt).Seconds()
			if d.DelaySeconds < 0 {
				d.DelaySeconds = 0
			}
		case ActionThrottle:
			d.ThrottleFactor = cfg.ThrottleFactor
			if d.ThrottleFactor <= 0 {
				d.ThrottleFactor = 0.5
			}
		}
	}
	return d
}
