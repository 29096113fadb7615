// Package outbox implements the transactional outbox: a row inserted in the
// same DB transaction as a business write, later picked up and published to
// Kafka by a background processor, guaranteeing the event reaches the bus
// iff the business transaction committed.
package outbox

import (
	"database/sql"
	"time"

	"github.com/flowmesh/core/internal/events"
)

// Status is the outbox row lifecycle: PENDING -> (claimed) PROCESSING ->
// COMPLETED | PENDING (retry) | DEAD_LETTER.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// Event is a persisted outbox row. EventData holds the codec-encoded wire
// form of the events.Event it wraps.
type Event struct {
	ID            string         `db:"id"`
	EventID       string         `db:"event_id"`
	EventType     string         `db:"event_type"`
	EventData     []byte         `db:"event_data"`
	Status        Status         `db:"status"`
	Priority      int            `db:"priority"`
	CreatedAt     time.Time      `db:"created_at"`
	ScheduledAt   sql.NullTime   `db:"scheduled_at"`
	ProcessedAt   sql.NullTime   `db:"processed_at"`
	ExpiresAt     sql.NullTime   `db:"expires_at"`
	Attempts      int            `db:"attempts"`
	MaxAttempts   int            `db:"max_attempts"`
	ErrorMessage  sql.NullString `db:"error_message"`
	CorrelationID sql.NullString `db:"correlation_id"`
	SourceService string         `db:"source_service"`
	TenantID      sql.NullString `db:"tenant_id"`
	IsDeadLetter  bool           `db:"is_dead_letter"`
}

// Expired reports whether the row's expires_at has passed.
func (e Event) Expired(now time.Time) bool {
	return e.ExpiresAt.Valid && e.ExpiresAt.Time.Before(now)
}

// Ready reports whether the row is eligible for pickup: scheduled_at unset
// or already due.
func (e Event) Ready(now time.Time) bool {
	return !e.ScheduledAt.Valid || !e.ScheduledAt.Time.After(now)
}

// NewFromEvent builds a pending outbox row from a domain event, ready to be
// inserted inside the caller's transaction.
func NewFromEvent(e events.Event, encoded []byte, maxAttempts int, scheduledAt *time.Time, expiresAt *time.Time) Event {
	row := Event{
		EventID:       e.EventID,
		EventType:     e.EventType,
		EventData:     encoded,
		Status:        StatusPending,
		Priority:      int(e.Metadata.Priority),
		Attempts:      0,
		MaxAttempts:   maxAttempts,
		SourceService: e.Metadata.SourceService,
	}
	if e.Metadata.CorrelationID != "" {
		row.CorrelationID = sql.NullString{String: e.Metadata.CorrelationID, Valid: true}
	}
	if e.Metadata.TenantID != "" {
		row.TenantID = sql.NullString{String: e.Metadata.TenantID, Valid: true}
	}
	if scheduledAt != nil {
		row.ScheduledAt = sql.NullTime{Time: *scheduledAt, Valid: true}
	}
	if expiresAt != nil {
		row.ExpiresAt = sql.NullTime{Time: *expiresAt, Valid: true}
	} else if e.Metadata.Expiry != nil {
		row.ExpiresAt = sql.NullTime{Time: *e.Metadata.Expiry, Valid: true}
	}
	return row
}

// DeadLetterEvent is the durable record of an outbox row that exhausted its
// retries, kept separately from Event so operators can inspect and
// selectively retry failures without resurrecting the original row.
type DeadLetterEvent struct {
	ID              string    `db:"id"`
	OriginalEventID string    `db:"original_event_id"`
	EventType       string    `db:"event_type"`
	EventData       []byte    `db:"event_data"`
	FailureReason   string    `db:"failure_reason"`
	FailedAt        time.Time `db:"failed_at"`
	AttemptsMade    int       `db:"attempts_made"`
	CanRetry        bool      `db:"can_retry"`
}
