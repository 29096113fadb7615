package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flowmesh/core/internal/common/logger"
)

// Store is the Postgres-backed workflow repository.
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
}

func NewStore(db *sqlx.DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log}
}

// CreateInstance inserts a CREATED row.
func (s *Store) CreateInstance(ctx context.Context, inst *Instance) error {
	const query = `
		INSERT INTO workflow_instances
			(workflow_id, workflow_type, status, context_data, current_step,
			 correlation_id, user_id, tenant_id, retry_count, max_retries)
		VALUES
			(:workflow_id, :workflow_type, :status, :context_data, :current_step,
			 :correlation_id, :user_id, :tenant_id, :retry_count, :max_retries)
	`
	if _, err := s.db.NamedExecContext(ctx, query, inst); err != nil {
		return fmt.Errorf("workflow: failed to create instance: %w", err)
	}
	return nil
}

// UpdateStatus transitions an instance's status, stamps started_at on the
// first transition to RUNNING, and stamps completed_at on terminal ones.
func (s *Store) UpdateStatus(ctx context.Context, workflowID string, status InstanceStatus, errMsg string) error {
	query := `UPDATE workflow_instances SET status = $1, updated_at = now()`
	args := []interface{}{status}
	argN := 2

	if status == StatusRunning {
		query += ", started_at = COALESCE(started_at, now())"
	}
	if status == StatusCompleted || status == StatusFailed || status == StatusCancelled || status == StatusCompensated {
		query += ", completed_at = now()"
	}
	if errMsg != "" {
		query += fmt.Sprintf(", error_message = $%d", argN)
		args = append(args, errMsg)
		argN++
	}
	query += fmt.Sprintf(" WHERE workflow_id = $%d", argN)
	args = append(args, workflowID)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("workflow: failed to update status: %w", err)
	}
	return nil
}

// UpdateProgress persists the current step index and serialized context,
// called after every step completes so recovery can resume precisely.
func (s *Store) UpdateProgress(ctx context.Context, workflowID string, currentStep int, contextData string) error {
	const query = `UPDATE workflow_instances SET current_step = $1, context_data = $2, updated_at = now() WHERE workflow_id = $3`
	if _, err := s.db.ExecContext(ctx, query, currentStep, contextData, workflowID); err != nil {
		return fmt.Errorf("workflow: failed to update progress: %w", err)
	}
	return nil
}

func (s *Store) GetInstance(ctx context.Context, workflowID string) (*Instance, error) {
	var inst Instance
	const query = `SELECT * FROM workflow_instances WHERE workflow_id = $1`
	if err := s.db.GetContext(ctx, &inst, query, workflowID); err != nil {
		return nil, fmt.Errorf("workflow: failed to load instance: %w", err)
	}
	return &inst, nil
}

// RecordStepExecution upserts a step attempt row keyed by
// (workflow_id, step_id, attempt_number).
func (s *Store) RecordStepExecution(ctx context.Context, exec *StepExecution) error {
	const query = `
		INSERT INTO workflow_step_executions
			(workflow_id, step_id, status, started_at, completed_at, result_data, error_message, attempt_number)
		VALUES
			(:workflow_id, :step_id, :status, :started_at, :completed_at, :result_data, :error_message, :attempt_number)
		ON CONFLICT (workflow_id, step_id, attempt_number) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			result_data = EXCLUDED.result_data,
			error_message = EXCLUDED.error_message
	`
	if _, err := s.db.NamedExecContext(ctx, query, exec); err != nil {
		return fmt.Errorf("workflow: failed to record step execution: %w", err)
	}
	return nil
}

// CompletedSteps returns the step ids marked COMPLETED for workflowID, in
// the order their most recent attempt completed — the order compensation
// must reverse.
func (s *Store) CompletedSteps(ctx context.Context, workflowID string) ([]string, error) {
	const query = `
		SELECT step_id FROM workflow_step_executions
		WHERE workflow_id = $1 AND status = 'COMPLETED'
		ORDER BY completed_at ASC
	`
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, workflowID); err != nil {
		return nil, fmt.Errorf("workflow: failed to load completed steps: %w", err)
	}
	return ids, nil
}

// StepAlreadyCompleted reports whether a step has a COMPLETED row, so
// recovery never re-executes a step's side effect.
func (s *Store) StepAlreadyCompleted(ctx context.Context, workflowID, stepID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM workflow_step_executions WHERE workflow_id = $1 AND step_id = $2 AND status = 'COMPLETED')`
	var exists bool
	if err := s.db.GetContext(ctx, &exists, query, workflowID, stepID); err != nil {
		return false, fmt.Errorf("workflow: failed to check step completion: %w", err)
	}
	return exists, nil
}

// RecoverStale finds RUNNING instances whose updated_at is older than
// threshold, for the recovery sweep to resume.
func (s *Store) RecoverStale(ctx context.Context, threshold time.Duration) ([]Instance, error) {
	const query = `
		SELECT * FROM workflow_instances
		WHERE status = 'RUNNING' AND updated_at < now() - $1::interval
	`
	var stale []Instance
	if err := s.db.SelectContext(ctx, &stale, query, threshold.String()); err != nil {
		return nil, fmt.Errorf("workflow: failed to load stale instances: %w", err)
	}
	return stale, nil
}

var ErrInstanceNotFound = sql.ErrNoRows
