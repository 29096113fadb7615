package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/flowmesh/core/internal/common/logger"
)

// Store is the Postgres-backed outbox repository. It is safe for concurrent
// use by multiple processor instances: ClaimBatch's conditional update with
// FOR UPDATE SKIP LOCKED is what lets more than one processor poll the same
// table without double-claiming a row.
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
}

func NewStore(db *sqlx.DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log}
}

// SaveEvent inserts a PENDING row inside the caller's transaction. Call this
// from the same transaction as the business write it is the effect of, so
// the row exists iff the transaction commits.
func (s *Store) SaveEvent(ctx context.Context, tx *sqlx.Tx, row *Event) error {
	const query = `
		INSERT INTO outbox_events
			(event_id, event_type, event_data, status, priority, scheduled_at,
			 expires_at, attempts, max_attempts, correlation_id, source_service, tenant_id)
		VALUES
			(:event_id, :event_type, :event_data, :status, :priority, :scheduled_at,
			 :expires_at, :attempts, :max_attempts, :correlation_id, :source_service, :tenant_id)
		RETURNING id, created_at
	`

	rows, err := tx.NamedQuery(query, row)
	if err != nil {
		return fmt.Errorf("outbox: failed to save event: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&row.ID, &row.CreatedAt); err != nil {
			return fmt.Errorf("outbox: failed to scan inserted event: %w", err)
		}
	}

	s.logger.Debugf("outbox event saved: %s (%s)", row.EventType, row.EventID)
	return nil
}

// ClaimBatch atomically transitions up to limit eligible PENDING rows to
// PROCESSING (incrementing attempts) and returns them, ordered by
// (priority DESC, created_at ASC) per spec.md's pickup order.
func (s *Store) ClaimBatch(ctx context.Context, limit int) ([]Event, error) {
	const query = `
		UPDATE outbox_events
		SET status = 'PROCESSING', attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = 'PENDING'
			  AND attempts < max_attempts
			  AND (scheduled_at IS NULL OR scheduled_at <= now())
			ORDER BY priority DESC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_id, event_type, event_data, status, priority, created_at,
			scheduled_at, processed_at, expires_at, attempts, max_attempts, error_message,
			correlation_id, source_service, tenant_id, is_dead_letter
	`

	var claimed []Event
	if err := s.db.SelectContext(ctx, &claimed, query, limit); err != nil {
		return nil, fmt.Errorf("outbox: failed to claim batch: %w", err)
	}

	return claimed, nil
}

// MarkCompleted transitions a row to COMPLETED. COMPLETED rows are never
// re-claimed (ClaimBatch only selects PENDING).
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	const query = `UPDATE outbox_events SET status = 'COMPLETED', processed_at = now() WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("outbox: failed to mark completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outbox: event not found: %s", id)
	}
	return nil
}

// MarkRetryable reverts a row to PENDING after a transient publish failure,
// recording the error. attempts was already incremented by ClaimBatch.
func (s *Store) MarkRetryable(ctx context.Context, id string, errMsg string) error {
	const query = `UPDATE outbox_events SET status = 'PENDING', error_message = $1 WHERE id = $2`

	_, err := s.db.ExecContext(ctx, query, errMsg, id)
	if err != nil {
		return fmt.Errorf("outbox: failed to mark retryable: %w", err)
	}
	return nil
}

// MarkExpired fails a row whose expires_at has passed without attempting
// publish.
func (s *Store) MarkExpired(ctx context.Context, id string) error {
	const query = `UPDATE outbox_events SET status = 'FAILED', error_message = 'expired' WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("outbox: failed to mark expired: %w", err)
	}
	return nil
}

// MoveToDeadLetter sets the row to DEAD_LETTER and records a DeadLetterEvent
// in the same transaction, once attempts has reached max_attempts.
func (s *Store) MoveToDeadLetter(ctx context.Context, row Event, failureReason string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("outbox: failed to begin dead-letter transaction: %w", err)
	}
	defer tx.Rollback()

	const updateQuery = `UPDATE outbox_events SET status = 'DEAD_LETTER', is_dead_letter = true, error_message = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, updateQuery, failureReason, row.ID); err != nil {
		return fmt.Errorf("outbox: failed to mark dead letter: %w", err)
	}

	const insertQuery = `
		INSERT INTO outbox_dead_letters
			(id, original_event_id, event_type, event_data, failure_reason, failed_at, attempts_made, can_retry)
		VALUES ($1, $2, $3, $4, $5, now(), $6, true)
	`
	if _, err := tx.ExecContext(ctx, insertQuery, uuid.NewString(), row.EventID, row.EventType, row.EventData, failureReason, row.Attempts); err != nil {
		return fmt.Errorf("outbox: failed to insert dead letter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("outbox: failed to commit dead-letter transaction: %w", err)
	}

	s.logger.Warnf("outbox event moved to dead letter: %s (%s) after %d attempts", row.EventType, row.EventID, row.Attempts)
	return nil
}

// RecoverStale reverts PROCESSING rows older than threshold back to
// PENDING. Run once at startup: a crash between publish and MarkCompleted
// leaves a row stuck in PROCESSING, and without this sweep it would never
// be retried.
func (s *Store) RecoverStale(ctx context.Context, threshold time.Duration) (int64, error) {
	const query = `
		UPDATE outbox_events
		SET status = 'PENDING'
		WHERE status = 'PROCESSING'
		  AND processed_at IS NULL
		  AND created_at < now() - $1::interval
	`

	res, err := s.db.ExecContext(ctx, query, threshold.String())
	if err != nil {
		return 0, fmt.Errorf("outbox: failed to recover stale rows: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warnf("outbox recovery sweep reverted %d stale PROCESSING row(s) to PENDING", n)
	}
	return n, nil
}

// GetDeadLetters returns a read-only snapshot of dead-lettered events,
// optionally filtered by event type.
func (s *Store) GetDeadLetters(ctx context.Context, limit int, eventType string) ([]DeadLetterEvent, error) {
	query := `
		SELECT id, original_event_id, event_type, event_data, failure_reason, failed_at, attempts_made, can_retry
		FROM outbox_dead_letters
	`
	args := []interface{}{}
	if eventType != "" {
		query += ` WHERE event_type = $1 ORDER BY failed_at DESC LIMIT $2`
		args = append(args, eventType, limit)
	} else {
		query += ` ORDER BY failed_at DESC LIMIT $1`
		args = append(args, limit)
	}

	var out []DeadLetterEvent
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("outbox: failed to list dead letters: %w", err)
	}
	return out, nil
}

// ErrDLQNotFound is returned by RetryDeadLetter when the dead letter id
// doesn't exist or was already retried.
var ErrDLQNotFound = fmt.Errorf("outbox: dead letter not found or already retried")

// RetryDeadLetter inserts a fresh PENDING outbox row from a dead letter and
// marks the dead letter can_retry = false, so it cannot be retried twice.
func (s *Store) RetryDeadLetter(ctx context.Context, dlqID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("outbox: failed to begin retry transaction: %w", err)
	}
	defer tx.Rollback()

	var dl DeadLetterEvent
	const selectQuery = `
		SELECT id, original_event_id, event_type, event_data, failure_reason, failed_at, attempts_made, can_retry
		FROM outbox_dead_letters WHERE id = $1 AND can_retry = true FOR UPDATE
	`
	if err := tx.GetContext(ctx, &dl, selectQuery, dlqID); err != nil {
		if err == sql.ErrNoRows {
			return ErrDLQNotFound
		}
		return fmt.Errorf("outbox: failed to load dead letter: %w", err)
	}

	const insertQuery = `
		INSERT INTO outbox_events
			(event_id, event_type, event_data, status, priority, attempts, max_attempts, source_service)
		VALUES ($1, $2, $3, 'PENDING', 0, 0, 5, 'dlq-retry')
	`
	if _, err := tx.ExecContext(ctx, insertQuery, dl.OriginalEventID, dl.EventType, dl.EventData); err != nil {
		return fmt.Errorf("outbox: failed to re-enqueue dead letter: %w", err)
	}

	const markQuery = `UPDATE outbox_dead_letters SET can_retry = false WHERE id = $1`
	if _, err := tx.ExecContext(ctx, markQuery, dlqID); err != nil {
		return fmt.Errorf("outbox: failed to mark dead letter retried: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("outbox: failed to commit retry transaction: %w", err)
	}

	s.logger.Infof("dead letter %s re-enqueued for publish", dlqID)
	return nil
}
