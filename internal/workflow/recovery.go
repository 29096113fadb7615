package workflow

import (
	"context"
	"time"

	"github.com/flowmesh/core/internal/common/logger"
)

// StaleStore is the narrow dependency the recovery sweep needs.
type StaleStore interface {
	RecoverStale(ctx context.Context, threshold time.Duration) ([]Instance, error)
}

// Recovery periodically finds RUNNING instances whose updated_at is older
// than StaleAfter and resumes them from their persisted current_step.
type Recovery struct {
	store    StaleStore
	engine   *Engine
	interval time.Duration
	stale    time.Duration
	logger   *logger.Logger
}

func NewRecovery(store StaleStore, engine *Engine, interval, staleAfter time.Duration, log *logger.Logger) *Recovery {
	return &Recovery{store: store, engine: engine, interval: interval, stale: staleAfter, logger: log}
}

// Run sweeps once immediately, then on Interval until ctx is cancelled.
func (r *Recovery) Run(ctx context.Context) {
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Recovery) sweep(ctx context.Context) {
	stale, err := r.store.RecoverStale(ctx, r.stale)
	if err != nil {
		r.logger.Errorf("workflow: recovery sweep failed: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	r.logger.Warnf("workflow: recovery sweep resuming %d stale instance(s)", len(stale))
	for _, inst := range stale {
		if err := r.engine.Resume(ctx, inst); err != nil {
			r.logger.Errorf("workflow: failed to resume %s: %v", inst.WorkflowID, err)
		}
	}
}
