package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh/core/internal/common/logger"
	"github.com/flowmesh/core/internal/common/metrics"
)

// EventPublisher is the narrow slice of the event bus the engine needs,
// for WorkflowEvent emission on every lifecycle transition.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}, correlationID string) error
}

// EngineStore is the subset of Store the engine depends on, narrowed for
// testability against a fake.
type EngineStore interface {
	CreateInstance(ctx context.Context, inst *Instance) error
	UpdateStatus(ctx context.Context, workflowID string, status InstanceStatus, errMsg string) error
	UpdateProgress(ctx context.Context, workflowID string, currentStep int, contextData string) error
	GetInstance(ctx context.Context, workflowID string) (*Instance, error)
	RecordStepExecution(ctx context.Context, exec *StepExecution) error
	CompletedSteps(ctx context.Context, workflowID string) ([]string, error)
	StepAlreadyCompleted(ctx context.Context, workflowID, stepID string) (bool, error)
}

// Engine runs WorkflowDefinitions against persisted Instances, bounding
// concurrently-executing instances with a semaphore.
type Engine struct {
	store       EngineStore
	events      EventPublisher
	logger      *logger.Logger
	sem         chan struct{}
	definitions map[string]Definition

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Registry
}

func NewEngine(store EngineStore, events EventPublisher, log *logger.Logger, maxConcurrent int) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 50
	}
	return &Engine{
		store:       store,
		events:      events,
		logger:      log,
		sem:         make(chan struct{}, maxConcurrent),
		definitions: map[string]Definition{},
		cancels:     map[string]context.CancelFunc{},
	}
}

// RegisterDefinition adds or replaces a definition by name.
func (e *Engine) RegisterDefinition(def Definition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.definitions[def.Name] = def
}

// UnregisterDefinition drops a definition, for instance-scoped definitions
// (e.g. one per saga instance) that have finished running.
func (e *Engine) UnregisterDefinition(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.definitions, name)
}

func (e *Engine) emit(ctx context.Context, eventType, workflowID string, payload map[string]interface{}) {
	if e.events == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["workflow_id"] = workflowID
	if err := e.events.Publish(ctx, eventType, payload, workflowID); err != nil {
		e.logger.Warnf("workflow: failed to publish %s for %s: %v", eventType, workflowID, err)
	}
}

// Start creates a new instance for definitionName and begins executing it in
// a new goroutine, returning immediately with the created instance id.
func (e *Engine) Start(ctx context.Context, definitionName string, vars map[string]interface{}, correlationID, userID, tenantID string) (string, error) {
	e.mu.Lock()
	def, ok := e.definitions[definitionName]
	e.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("workflow: unknown definition %q", definitionName)
	}

	workflowID := uuid.NewString()
	wfCtx := NewContext(workflowID, vars)
	if correlationID != "" {
		wfCtx.CorrelationID = correlationID
	}
	serialized, err := wfCtx.Serialize()
	if err != nil {
		return "", fmt.Errorf("workflow: failed to serialize initial context: %w", err)
	}

	inst := &Instance{
		WorkflowID:   workflowID,
		WorkflowType: def.Name,
		Status:       StatusCreated,
		ContextData:  serialized,
		CurrentStep:  0,
		CorrelationID: sql.NullString{String: correlationID, Valid: correlationID != ""},
		UserID:       sql.NullString{String: userID, Valid: userID != ""},
		TenantID:     sql.NullString{String: tenantID, Valid: tenantID != ""},
		MaxRetries:   def.defaultMaxRetries(),
	}
	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return "", err
	}

	go e.run(context.Background(), def, workflowID, wfCtx, 0)

	return workflowID, nil
}

// Resume continues an instance from its persisted current_step, used by the
// recovery sweep.
func (e *Engine) Resume(ctx context.Context, inst Instance) error {
	e.mu.Lock()
	def, ok := e.definitions[inst.WorkflowType]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("workflow: unknown definition %q for instance %s", inst.WorkflowType, inst.WorkflowID)
	}

	wfCtx, err := DeserializeContext(inst.WorkflowID, inst.ContextData)
	if err != nil {
		return fmt.Errorf("workflow: failed to deserialize context for %s: %w", inst.WorkflowID, err)
	}
	if inst.CorrelationID.Valid {
		wfCtx.CorrelationID = inst.CorrelationID.String
	}

	go e.run(context.Background(), def, inst.WorkflowID, wfCtx, inst.CurrentStep)
	return nil
}

func (def Definition) defaultMaxRetries() int {
	max := 0
	for _, s := range def.Steps {
		if s.RetryCount > max {
			max = s.RetryCount
		}
	}
	return max
}

func (e *Engine) run(parent context.Context, def Definition, workflowID string, wfCtx *Context, startStep int) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	ctx, cancel := context.WithTimeout(parent, def.effectiveTimeout())
	e.mu.Lock()
	e.cancels[workflowID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.cancels, workflowID)
		e.mu.Unlock()
	}()

	if startStep == 0 {
		if err := e.store.UpdateStatus(ctx, workflowID, StatusRunning, ""); err != nil {
			e.logger.Errorf("workflow: failed to transition %s to RUNNING: %v", workflowID, err)
			return
		}
		e.emit(ctx, "WorkflowStarted", workflowID, nil)
	}
	e.emit(ctx, "WorkflowRunning", workflowID, nil)

	failedAt := -1
	for i := startStep; i < len(def.Steps); i++ {
		step := def.Steps[i]

		if step.ShouldExecute != nil && !step.ShouldExecute(wfCtx) {
			e.recordStep(ctx, workflowID, step.StepID, StepSkipped, 1, nil, "")
			continue
		}

		already, err := e.store.StepAlreadyCompleted(ctx, workflowID, step.StepID)
		if err == nil && already {
			continue
		}

		ok := e.executeStep(ctx, def.Name, workflowID, wfCtx, step)
		if !ok {
			failedAt = i
			break
		}

		next := i + 1
		if step.Type == StepTypeDecision {
			if branch, ok := wfCtx.Variables["_branch:"+step.StepID].(string); ok {
				if idx, ok := step.Branches[branch]; ok && idx >= 0 && idx < len(def.Steps) {
					next = idx
				}
			}
		}

		if err := e.store.UpdateProgress(ctx, workflowID, next, mustSerialize(wfCtx)); err != nil {
			e.logger.Warnf("workflow: failed to persist progress for %s: %v", workflowID, err)
		}
		i = next - 1
	}

	if failedAt >= 0 {
		e.compensate(ctx, def, workflowID, wfCtx, failedAt)
		return
	}

	e.store.UpdateStatus(ctx, workflowID, StatusCompleted, "")
	e.emit(ctx, "WorkflowCompleted", workflowID, nil)
	if e.Metrics != nil {
		e.Metrics.WorkflowInstanceTotal.WithLabelValues(def.Name, string(StatusCompleted)).Inc()
	}
}

func mustSerialize(c *Context) string {
	s, err := c.Serialize()
	if err != nil {
		return "{}"
	}
	return s
}

func (e *Engine) recordStep(ctx context.Context, workflowID, stepID string, status StepStatus, attempt int, data map[string]interface{}, errMsg string) {
	exec := &StepExecution{
		WorkflowID:    workflowID,
		StepID:        stepID,
		Status:        status,
		AttemptNumber: attempt,
		StartedAt:     sql.NullTime{Time: time.Now(), Valid: true},
	}
	if status == StepCompleted || status == StepFailed || status == StepSkipped || status == StepCompensated {
		exec.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	if errMsg != "" {
		exec.ErrorMessage = sql.NullString{String: errMsg, Valid: true}
	}
	if data != nil {
		if s, err := serializeData(data); err == nil {
			exec.ResultData = sql.NullString{String: s, Valid: true}
		}
	}
	if err := e.store.RecordStepExecution(ctx, exec); err != nil {
		e.logger.Warnf("workflow: failed to record step execution %s/%s: %v", workflowID, stepID, err)
	}
}

// executeStep runs one step to a terminal outcome (COMPLETED or FAILED),
// handling DECISION, PARALLEL, WAIT and ACTION, with the retry loop spec.md
// §4.8 describes for ACTION steps.
func (e *Engine) executeStep(ctx context.Context, workflowType, workflowID string, wfCtx *Context, step Step) bool {
	e.recordStep(ctx, workflowID, step.StepID, StepRunning, 1, nil, "")

	switch step.Type {
	case StepTypeDecision:
		return e.executeDecision(ctx, workflowID, wfCtx, step)
	case StepTypeParallel:
		return e.executeParallel(ctx, workflowType, workflowID, wfCtx, step)
	case StepTypeWait:
		return e.executeWait(ctx, workflowID, wfCtx, step)
	default: // ACTION, COMPENSATION executed as a plain action
		return e.executeAction(ctx, workflowType, workflowID, wfCtx, step)
	}
}

func (e *Engine) executeAction(ctx context.Context, workflowType, workflowID string, wfCtx *Context, step Step) bool {
	attempts := step.RetryCount + 1
	var lastErr string

	var timer *metrics.StepTimer
	if e.Metrics != nil {
		timer = e.Metrics.StartStepTimer(workflowType, step.StepID)
	}

attemptLoop:
	for attempt := 1; attempt <= attempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, step.effectiveTimeout())
		result, err := e.invokeAction(stepCtx, step, wfCtx)
		cancel()

		if err == nil && result.Success {
			wfCtx.Merge(result.Data)
			e.recordStep(ctx, workflowID, step.StepID, StepCompleted, attempt, result.Data, "")
			e.emit(ctx, "StepCompleted", workflowID, map[string]interface{}{"step_id": step.StepID})
			if timer != nil {
				timer.Stop("completed")
			}
			return true
		}

		if err != nil {
			lastErr = err.Error()
		} else if result.Err != nil {
			lastErr = result.Err.Error()
		} else {
			lastErr = "step reported failure"
		}

		shouldRetry := result.ShouldRetry && attempt < attempts
		if !shouldRetry {
			break
		}

		delay := result.RetryDelay
		if delay == 0 {
			delay = step.RetryDelay
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err().Error()
				break attemptLoop
			}
		}
	}

	e.recordStep(ctx, workflowID, step.StepID, StepFailed, attempts, nil, lastErr)
	e.emit(ctx, "StepFailed", workflowID, map[string]interface{}{"step_id": step.StepID, "error": lastErr})
	if timer != nil {
		timer.Stop("failed")
	}
	return false
}

func (e *Engine) invokeAction(ctx context.Context, step Step, wfCtx *Context) (result StepResult, err error) {
	if step.Action == nil {
		return StepResult{}, fmt.Errorf("step %s has no action", step.StepID)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err = step.Action(wfCtx)
	}()

	select {
	case <-done:
		return result, err
	case <-ctx.Done():
		return StepResult{}, ctx.Err()
	}
}

func (e *Engine) executeDecision(ctx context.Context, workflowID string, wfCtx *Context, step Step) bool {
	if step.Decision == nil {
		e.recordStep(ctx, workflowID, step.StepID, StepFailed, 1, nil, "decision step has no decision function")
		return false
	}
	branch, err := step.Decision(wfCtx)
	if err != nil {
		e.recordStep(ctx, workflowID, step.StepID, StepFailed, 1, nil, err.Error())
		return false
	}
	wfCtx.Variables["_branch:"+step.StepID] = branch
	e.recordStep(ctx, workflowID, step.StepID, StepCompleted, 1, map[string]interface{}{"branch": branch}, "")
	return true
}

func (e *Engine) executeParallel(ctx context.Context, workflowType, workflowID string, wfCtx *Context, step Step) bool {
	if len(step.Children) == 0 {
		e.recordStep(ctx, workflowID, step.StepID, StepCompleted, 1, nil, "")
		return true
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		ok bool
	}
	results := make(chan outcome, len(step.Children))
	var wg sync.WaitGroup

	for _, child := range step.Children {
		child := child
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := e.executeStep(childCtx, workflowType, workflowID, wfCtx, child)
			results <- outcome{ok: ok}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	if step.ParallelMode == ParallelWaitFirstComplete {
		first := <-results
		cancel()
		e.recordStep(ctx, workflowID, step.StepID, StepCompleted, 1, nil, "")
		return first.ok
	}

	allOK := true
	for r := range results {
		if !r.ok {
			allOK = false
		}
	}
	status := StepCompleted
	if !allOK {
		status = StepFailed
	}
	e.recordStep(ctx, workflowID, step.StepID, status, 1, nil, "")
	return allOK
}

func (e *Engine) executeWait(ctx context.Context, workflowID string, wfCtx *Context, step Step) bool {
	if step.WaitPredicate == nil {
		select {
		case <-time.After(step.WaitFor):
		case <-ctx.Done():
			e.recordStep(ctx, workflowID, step.StepID, StepFailed, 1, nil, "context cancelled during wait")
			return false
		}
		e.recordStep(ctx, workflowID, step.StepID, StepCompleted, 1, nil, "")
		return true
	}

	timeout := step.WaitTimeout
	if timeout == 0 {
		timeout = step.effectiveTimeout()
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := step.WaitPredicate(wfCtx)
		if err != nil {
			e.recordStep(ctx, workflowID, step.StepID, StepFailed, 1, nil, err.Error())
			return false
		}
		if ok {
			e.recordStep(ctx, workflowID, step.StepID, StepCompleted, 1, nil, "")
			return true
		}
		if time.Now().After(deadline) {
			e.recordStep(ctx, workflowID, step.StepID, StepFailed, 1, nil, "wait predicate timed out")
			return false
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			e.recordStep(ctx, workflowID, step.StepID, StepFailed, 1, nil, "context cancelled during wait")
			return false
		}
	}
}

// compensate runs the compensation phase: every previously COMPLETED step,
// strictly in reverse order, invoking its compensator if it has one.
func (e *Engine) compensate(ctx context.Context, def Definition, workflowID string, wfCtx *Context, failedAt int) {
	e.store.UpdateStatus(ctx, workflowID, StatusCompensating, "")
	e.emit(ctx, "WorkflowCompensating", workflowID, nil)

	completed, err := e.store.CompletedSteps(ctx, workflowID)
	if err != nil {
		e.logger.Errorf("workflow: failed to load completed steps for compensation of %s: %v", workflowID, err)
		e.store.UpdateStatus(ctx, workflowID, StatusFailed, "compensation lookup failed")
		e.emit(ctx, "WorkflowFailed", workflowID, nil)
		if e.Metrics != nil {
			e.Metrics.WorkflowInstanceTotal.WithLabelValues(def.Name, string(StatusFailed)).Inc()
		}
		return
	}

	byID := map[string]Step{}
	for _, s := range def.Steps {
		byID[s.StepID] = s
	}

	for i := len(completed) - 1; i >= 0; i-- {
		step, ok := byID[completed[i]]
		if !ok || step.Compensate == nil {
			continue
		}
		if err := step.Compensate(wfCtx); err != nil {
			e.recordStep(ctx, workflowID, step.StepID, StepFailed, 1, nil, "compensation failed: "+err.Error())
			e.store.UpdateStatus(ctx, workflowID, StatusFailed, "compensation failed for step "+step.StepID)
			e.emit(ctx, "WorkflowFailed", workflowID, nil)
			if e.Metrics != nil {
				e.Metrics.WorkflowInstanceTotal.WithLabelValues(def.Name, string(StatusFailed)).Inc()
			}
			return
		}
		e.recordStep(ctx, workflowID, step.StepID, StepCompensated, 1, nil, "")
		e.emit(ctx, "StepCompensated", workflowID, map[string]interface{}{"step_id": step.StepID})
	}

	e.store.UpdateStatus(ctx, workflowID, StatusCompensated, "")
	e.emit(ctx, "WorkflowCompensated", workflowID, nil)
	if e.Metrics != nil {
		e.Metrics.WorkflowInstanceTotal.WithLabelValues(def.Name, string(StatusCompensated)).Inc()
	}
}

// Cancel stops a running instance's goroutine via its stored context
// cancel func, if it is still running locally.
func (e *Engine) Cancel(workflowID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[workflowID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func serializeData(data map[string]interface{}) (string, error) {
	c := &Context{Variables: data}
	return c.Serialize()
}
