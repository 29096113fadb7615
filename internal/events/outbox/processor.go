package outbox

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/flowmesh/core/internal/common/config"
	"github.com/flowmesh/core/internal/common/logger"
	"github.com/flowmesh/core/internal/common/metrics"
	"github.com/flowmesh/core/internal/events"
)

// Publisher is the subset of the Kafka transport the processor needs. Event
// types map onto topics via events.TopicFor.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key string, value []byte) error
}

// ProcessorStore is the subset of Store the processor drives; narrowed to
// an interface so the poll/retry/dead-letter logic can be tested without a
// database.
type ProcessorStore interface {
	RecoverStale(ctx context.Context, threshold time.Duration) (int64, error)
	ClaimBatch(ctx context.Context, limit int) ([]Event, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkRetryable(ctx context.Context, id string, errMsg string) error
	MarkExpired(ctx context.Context, id string) error
	MoveToDeadLetter(ctx context.Context, row Event, failureReason string) error
}

// Processor is the background pump described in spec.md §4.2: claim a
// batch, publish each row, sleep, repeat. On an unexpected processor error
// it backs off by RetryDelay instead of PollInterval.
type Processor struct {
	store     ProcessorStore
	publisher Publisher
	logger    *logger.Logger
	cfg       config.OutboxConfig

	// Metrics is optional; nil disables instrumentation. Set after
	// construction so callers that don't run a metrics registry are
	// unaffected.
	Metrics *metrics.Registry
}

func NewProcessor(store ProcessorStore, publisher Publisher, log *logger.Logger, cfg config.OutboxConfig) *Processor {
	return &Processor{store: store, publisher: publisher, logger: log, cfg: cfg}
}

// Start runs the recovery sweep once, then polls until ctx is cancelled. A
// panic inside one poll cycle is recovered and logged so a single bad row
// never takes the whole processor down.
func (p *Processor) Start(ctx context.Context) {
	if _, err := p.store.RecoverStale(ctx, p.cfg.RecoveryThreshold); err != nil {
		p.logger.Errorf("outbox recovery sweep failed: %v", err)
	}

	p.logger.Info("outbox processor started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox processor stopped")
			return
		default:
		}

		delay := p.cfg.PollInterval
		if err := p.runCycle(ctx); err != nil {
			p.logger.Errorf("outbox processor cycle failed: %v", err)
			delay = p.cfg.RetryDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (p *Processor) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("outbox processor panic recovered: %v\n%s", r, debug.Stack())
			err = errRecoveredPanic
		}
	}()

	rows, claimErr := p.store.ClaimBatch(ctx, p.cfg.BatchSize)
	if claimErr != nil {
		return claimErr
	}
	if len(rows) == 0 {
		return nil
	}

	p.logger.Infof("outbox processor claimed %d event(s)", len(rows))

	now := time.Now()
	if p.Metrics != nil {
		p.Metrics.OutboxLagSeconds.Set(now.Sub(rows[0].CreatedAt).Seconds())
	}
	for _, row := range rows {
		p.processOne(ctx, row, now)
	}
	return nil
}

func (p *Processor) processOne(ctx context.Context, row Event, now time.Time) {
	if row.Expired(now) {
		if err := p.store.MarkExpired(ctx, row.ID); err != nil {
			p.logger.Errorf("failed to mark expired outbox row %s: %v", row.ID, err)
		}
		return
	}

	topic := events.TopicFor(row.EventType)
	publishErr := p.publisher.PublishEvent(ctx, topic, row.EventID, row.EventData)
	if publishErr == nil {
		if err := p.store.MarkCompleted(ctx, row.ID); err != nil {
			p.logger.Errorf("failed to mark outbox row %s completed: %v", row.ID, err)
		}
		if p.Metrics != nil {
			p.Metrics.OutboxPublished.WithLabelValues(row.EventType).Inc()
		}
		return
	}

	p.logger.Errorf("failed to publish outbox row %s: %v", row.ID, publishErr)

	if row.Attempts >= row.MaxAttempts {
		if err := p.store.MoveToDeadLetter(ctx, row, publishErr.Error()); err != nil {
			p.logger.Errorf("failed to dead-letter outbox row %s: %v", row.ID, err)
		}
		if p.Metrics != nil {
			p.Metrics.OutboxDeadLettered.WithLabelValues(row.EventType).Inc()
		}
		return
	}

	if err := p.store.MarkRetryable(ctx, row.ID, publishErr.Error()); err != nil {
		p.logger.Errorf("failed to revert outbox row %s to pending: %v", row.ID, err)
	}
}

type processorError string

func (e processorError) Error() string { return string(e) }

const errRecoveredPanic processorError = "recovered panic in outbox processor cycle"
