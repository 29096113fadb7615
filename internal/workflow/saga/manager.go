package saga

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/flowmesh/core/internal/common/logger"
	"github.com/flowmesh/core/internal/workflow"
)

// TypeRegistration is one saga type's definition: its step specs and the
// service identity it sends commands as.
type TypeRegistration struct {
	SagaType string
	Steps    []StepSpec
}

// Manager is the DistributedSagaManager: a registry of saga types, each
// compiled lazily per-instance into a workflow.Definition bound to that
// instance's own SagaEventBus and ReplyStore so replies never cross wires
// between concurrently-running sagas of the same type.
type Manager struct {
	engine        *workflow.Engine
	bus           EventPublisher
	sourceService string
	logger        *logger.Logger

	mu    sync.RWMutex
	types map[string]TypeRegistration
}

func NewManager(engine *workflow.Engine, b EventPublisher, sourceService string, log *logger.Logger) *Manager {
	return &Manager{
		engine:        engine,
		bus:           b,
		sourceService: sourceService,
		logger:        log,
		types:         map[string]TypeRegistration{},
	}
}

// Register adds a saga type to the manager's registry.
func (m *Manager) Register(reg TypeRegistration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types[reg.SagaType] = reg
}

// Start begins a new saga instance of sagaType and returns the engine's
// workflow id for it. The saga's commands and replies carry a separately
// generated saga id as their correlation id, which is also the definition
// name the instance runs under. Unknown saga types fail immediately, per spec.md's policy
// that an unknown saga type is a persistent failure, never retried.
func (m *Manager) Start(ctx context.Context, sagaType string, vars map[string]interface{}, correlationID string) (string, error) {
	m.mu.RLock()
	reg, ok := m.types[sagaType]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("saga: unknown saga type %q", sagaType)
	}

	sagaID := uuid.NewString()
	sagaBus := NewSagaEventBus(sagaID, sagaType, m.bus, m.sourceService)
	replies := NewReplyStore()
	def := Build(sagaType, reg.Steps, sagaBus, replies)
	// Definitions are instance-scoped (each bound to its own SagaEventBus/
	// ReplyStore), so register under the saga id rather than the type name.
	def.Name = sagaID
	m.engine.RegisterDefinition(def)

	return m.engine.Start(ctx, sagaID, vars, correlationID, "", "")
}

// Cancel stops a running saga instance's goroutine, if it is still running
// on this process.
func (m *Manager) Cancel(sagaID string) bool {
	return m.engine.Cancel(sagaID)
}

// Status returns the persisted instance backing a saga id.
func (m *Manager) Status(ctx context.Context, store StatusStore, sagaID string) (*workflow.Instance, error) {
	return store.GetInstance(ctx, sagaID)
}

// StatusStore is the narrow dependency Status needs.
type StatusStore interface {
	GetInstance(ctx context.Context, workflowID string) (*workflow.Instance, error)
}
