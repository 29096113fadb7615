package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowmesh/core/internal/common/logger"
)

type fakeEngineStore struct {
	mu         sync.Mutex
	instances  map[string]*Instance
	executions []StepExecution
	completed  map[string][]string
}

func newFakeEngineStore() *fakeEngineStore {
	return &fakeEngineStore{instances: map[string]*Instance{}, completed: map[string][]string{}}
}

func (f *fakeEngineStore) CreateInstance(ctx context.Context, inst *Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *inst
	f.instances[inst.WorkflowID] = &cp
	return nil
}

func (f *fakeEngineStore) UpdateStatus(ctx context.Context, workflowID string, status InstanceStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.instances[workflowID]; ok {
		inst.Status = status
	}
	return nil
}

func (f *fakeEngineStore) UpdateProgress(ctx context.Context, workflowID string, currentStep int, contextData string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.instances[workflowID]; ok {
		inst.CurrentStep = currentStep
		inst.ContextData = contextData
	}
	return nil
}

func (f *fakeEngineStore) GetInstance(ctx context.Context, workflowID string) (*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[workflowID], nil
}

func (f *fakeEngineStore) RecordStepExecution(ctx context.Context, exec *StepExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions = append(f.executions, *exec)
	if exec.Status == StepCompleted {
		f.completed[exec.WorkflowID] = append(f.completed[exec.WorkflowID], exec.StepID)
	}
	return nil
}

func (f *fakeEngineStore) CompletedSteps(ctx context.Context, workflowID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.completed[workflowID]))
	copy(out, f.completed[workflowID])
	return out, nil
}

func (f *fakeEngineStore) StepAlreadyCompleted(ctx context.Context, workflowID, stepID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.completed[workflowID] {
		if id == stepID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEngineStore) statusOf(workflowID string) InstanceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.instances[workflowID]; ok {
		return inst.Status
	}
	return ""
}

func waitForStatus(t *testing.T, store *fakeEngineStore, workflowID string, want InstanceStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.statusOf(workflowID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s, got %s", want, store.statusOf(workflowID))
}

func testLogger() *logger.Logger {
	return logger.New("workflow-test")
}

func TestEngineRunsStepsToCompletion(t *testing.T) {
	store := newFakeEngineStore()
	engine := NewEngine(store, nil, testLogger(), 5)

	def := Definition{
		Name: "order-fulfillment",
		Steps: []Step{
			{StepID: "reserve", Type: StepTypeAction, Action: func(ctx *Context) (StepResult, error) {
				return StepResult{Success: true, Data: map[string]interface{}{"reserved": true}}, nil
			}},
			{StepID: "charge", Type: StepTypeAction, Action: func(ctx *Context) (StepResult, error) {
				return StepResult{Success: true}, nil
			}},
		},
	}
	engine.RegisterDefinition(def)

	workflowID, err := engine.Start(context.Background(), "order-fulfillment", nil, "", "", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForStatus(t, store, workflowID, StatusCompleted)
}

func TestEngineCompensatesCompletedStepsInReverseOrder(t *testing.T) {
	store := newFakeEngineStore()
	engine := NewEngine(store, nil, testLogger(), 5)

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}

	def := Definition{
		Name: "with-compensation",
		Steps: []Step{
			{
				StepID: "a",
				Type:   StepTypeAction,
				Action: func(ctx *Context) (StepResult, error) { return StepResult{Success: true}, nil },
				Compensate: func(ctx *Context) error {
					record("compensate-a")
					return nil
				},
			},
			{
				StepID: "b",
				Type:   StepTypeAction,
				Action: func(ctx *Context) (StepResult, error) { return StepResult{Success: true}, nil },
				Compensate: func(ctx *Context) error {
					record("compensate-b")
					return nil
				},
			},
			{
				StepID: "c-fails",
				Type:   StepTypeAction,
				Action: func(ctx *Context) (StepResult, error) {
					return StepResult{Success: false}, nil
				},
			},
		},
	}
	engine.RegisterDefinition(def)

	workflowID, err := engine.Start(context.Background(), "with-compensation", nil, "", "", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForStatus(t, store, workflowID, StatusCompensated)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "compensate-b" || order[1] != "compensate-a" {
		t.Errorf("expected compensation in strict reverse order [compensate-b, compensate-a], got %v", order)
	}
}

func TestEngineRetriesActionUntilMaxAttempts(t *testing.T) {
	store := newFakeEngineStore()
	engine := NewEngine(store, nil, testLogger(), 5)

	attempts := 0
	var mu sync.Mutex

	def := Definition{
		Name: "retrying",
		Steps: []Step{
			{
				StepID:     "flaky",
				Type:       StepTypeAction,
				RetryCount: 2,
				Action: func(ctx *Context) (StepResult, error) {
					mu.Lock()
					attempts++
					mu.Unlock()
					return StepResult{Success: false, ShouldRetry: true}, nil
				},
			},
		},
	}
	engine.RegisterDefinition(def)

	workflowID, err := engine.Start(context.Background(), "retrying", nil, "", "", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// No step completed, so the compensation phase has nothing to undo and
	// finishes cleanly.
	waitForStatus(t, store, workflowID, StatusCompensated)

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("expected 3 attempts (1 + retry_count 2), got %d", attempts)
	}
}

func TestEngineSkipsStepWhenGateReturnsFalse(t *testing.T) {
	store := newFakeEngineStore()
	engine := NewEngine(store, nil, testLogger(), 5)

	ran := false
	def := Definition{
		Name: "gated",
		Steps: []Step{
			{
				StepID:        "maybe",
				Type:          StepTypeAction,
				ShouldExecute: func(ctx *Context) bool { return false },
				Action: func(ctx *Context) (StepResult, error) {
					ran = true
					return StepResult{Success: true}, nil
				},
			},
		},
	}
	engine.RegisterDefinition(def)

	workflowID, err := engine.Start(context.Background(), "gated", nil, "", "", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForStatus(t, store, workflowID, StatusCompleted)
	if ran {
		t.Error("expected the gated step's action to never run")
	}
}
