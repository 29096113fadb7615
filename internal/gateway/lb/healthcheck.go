package lb

import (
	"context"
	"net/http"
	"time"

	"github.com/flowmesh/core/internal/common/logger"
)

// HealthCheckConfig configures the active poller.
type HealthCheckConfig struct {
	Path               string
	Interval           time.Duration
	Timeout            time.Duration
	HealthyThreshold   int // consecutive successes to mark healthy
	UnhealthyThreshold int // consecutive failures to mark unhealthy
}

func (c HealthCheckConfig) withDefaults() HealthCheckConfig {
	if c.Path == "" {
		c.Path = "/health"
	}
	if c.Interval == 0 {
		c.Interval = 10 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Second
	}
	if c.HealthyThreshold == 0 {
		c.HealthyThreshold = 2
	}
	if c.UnhealthyThreshold == 0 {
		c.UnhealthyThreshold = 3
	}
	return c
}

// HealthChecker polls every server in a pool on its own goroutine and flips
// Server.healthy once the consecutive success/failure threshold is crossed.
type HealthChecker struct {
	cfg    HealthCheckConfig
	client *http.Client
	log    *logger.Logger

	cancel context.CancelFunc
}

func NewHealthChecker(cfg HealthCheckConfig, log *logger.Logger) *HealthChecker {
	cfg = cfg.withDefaults()
	return &HealthChecker{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Start polls every server in pool.Servers() until ctx is cancelled or Stop
// is called.
func (h *HealthChecker) Start(ctx context.Context, pool *Pool) {
	ctx, cancel := context.WithCancel(ctx)
	prev := h.cancel
	h.cancel = func() {
		if prev != nil {
			prev()
		}
		cancel()
	}
	for _, s := range pool.Servers() {
		go h.watch(ctx, s)
	}
}

func (h *HealthChecker) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *HealthChecker) watch(ctx context.Context, s *Server) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	consecutiveOK, consecutiveFail := 0, 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok := h.probe(ctx, s)
			if ok {
				consecutiveOK++
				consecutiveFail = 0
				if consecutiveOK >= h.cfg.HealthyThreshold && !s.Healthy() {
					s.SetHealthy(true)
					h.log.Infof("server %s marked healthy", s.ID)
				}
			} else {
				consecutiveFail++
				consecutiveOK = 0
				if consecutiveFail >= h.cfg.UnhealthyThreshold && s.Healthy() {
					s.SetHealthy(false)
					h.log.Warnf("server %s marked unhealthy", s.ID)
				}
			}
		}
	}
}

func (h *HealthChecker) probe(ctx context.Context, s *Server) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+h.cfg.Path, nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
