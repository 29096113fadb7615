// Package workflow implements the saga-capable step-graph execution engine:
// ordered steps with retry, compensation in strict reverse order, and a
// recovery sweep that resumes instances a crashed worker left RUNNING.
package workflow

import (
	"database/sql"
	"encoding/json"
	"time"
)

// InstanceStatus is a WorkflowInstance's lifecycle state.
type InstanceStatus string

const (
	StatusCreated      InstanceStatus = "CREATED"
	StatusRunning      InstanceStatus = "RUNNING"
	StatusPaused       InstanceStatus = "PAUSED"
	StatusCompleted    InstanceStatus = "COMPLETED"
	StatusFailed       InstanceStatus = "FAILED"
	StatusCancelled    InstanceStatus = "CANCELLED"
	StatusCompensating InstanceStatus = "COMPENSATING"
	StatusCompensated  InstanceStatus = "COMPENSATED"
)

// StepStatus is one step execution attempt's state. Monotonic within an
// attempt: PENDING -> RUNNING -> a terminal value.
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepRunning     StepStatus = "RUNNING"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepSkipped     StepStatus = "SKIPPED"
	StepCompensated StepStatus = "COMPENSATED"
)

// Instance is the persisted row backing a running or finished workflow.
type Instance struct {
	WorkflowID   string         `db:"workflow_id"`
	WorkflowType string         `db:"workflow_type"`
	Status       InstanceStatus `db:"status"`
	ContextData  string         `db:"context_data"` // JSON-serialized Context
	CurrentStep  int            `db:"current_step"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	StartedAt    sql.NullTime   `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	CorrelationID sql.NullString `db:"correlation_id"`
	UserID       sql.NullString `db:"user_id"`
	TenantID     sql.NullString `db:"tenant_id"`
	ErrorMessage sql.NullString `db:"error_message"`
	RetryCount   int            `db:"retry_count"`
	MaxRetries   int            `db:"max_retries"`
}

// StepExecution is one row per step attempt.
type StepExecution struct {
	WorkflowID    string         `db:"workflow_id"`
	StepID        string         `db:"step_id"`
	Status        StepStatus     `db:"status"`
	StartedAt     sql.NullTime   `db:"started_at"`
	CompletedAt   sql.NullTime   `db:"completed_at"`
	ResultData    sql.NullString `db:"result_data"`
	ErrorMessage  sql.NullString `db:"error_message"`
	AttemptNumber int            `db:"attempt_number"`
}

// StepResult is what an ACTION step's function returns.
type StepResult struct {
	Success     bool
	Data        map[string]interface{}
	Err         error
	ShouldRetry bool
	RetryDelay  time.Duration
}

// Context is the mutable state threaded through a workflow instance's
// execution: variables merged from step results, plus identifiers used for
// correlation and event publishing.
type Context struct {
	WorkflowID    string
	CorrelationID string
	Variables     map[string]interface{}
}

func NewContext(workflowID string, vars map[string]interface{}) *Context {
	if vars == nil {
		vars = map[string]interface{}{}
	}
	return &Context{WorkflowID: workflowID, CorrelationID: workflowID, Variables: vars}
}

func (c *Context) Merge(data map[string]interface{}) {
	for k, v := range data {
		c.Variables[k] = v
	}
}

func (c *Context) Serialize() (string, error) {
	b, err := json.Marshal(c.Variables)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DeserializeContext(workflowID, raw string) (*Context, error) {
	vars := map[string]interface{}{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &vars); err != nil {
			return nil, err
		}
	}
	return &Context{WorkflowID: workflowID, CorrelationID: workflowID, Variables: vars}, nil
}
