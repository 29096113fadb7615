package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowmesh/core/internal/events"
	"github.com/flowmesh/core/internal/workflow"
)

// ReplyStore hands a saga step's waiting ACTION a channel to receive its
// correlated reply on, keyed by workflowID+stepID so concurrent saga
// instances of the same type never cross wires.
type ReplyStore struct {
	mu      sync.Mutex
	waiters map[string]chan reply
}

func NewReplyStore() *ReplyStore {
	return &ReplyStore{waiters: map[string]chan reply{}}
}

type reply struct {
	success bool
	payload map[string]interface{}
	errMsg  string
}

func replyKey(workflowID, stepID string) string { return workflowID + ":" + stepID }

func (r *ReplyStore) register(workflowID, stepID string) chan reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan reply, 1)
	r.waiters[replyKey(workflowID, stepID)] = ch
	return ch
}

func (r *ReplyStore) deliver(workflowID, stepID string, rep reply) {
	r.mu.Lock()
	ch, ok := r.waiters[replyKey(workflowID, stepID)]
	if ok {
		delete(r.waiters, replyKey(workflowID, stepID))
	}
	r.mu.Unlock()
	if ok {
		ch <- rep
	}
}

// StepSpec describes one leg of a distributed saga: a command sent to
// targetService and the correlated reply it waits for.
type StepSpec struct {
	StepID                  string
	Name                    string
	CommandType             string
	SuccessReplyType        string
	FailureReplyType        string
	CompensationCommandType string
	Timeout                 time.Duration
	RetryCount              int
	BuildPayload            func(c *workflow.Context) (interface{}, error)
}

// Build turns a saga's step specs into a WorkflowDefinition whose ACTION
// steps send a command and block until SagaEventBus.SubscribeReply delivers
// the correlated reply (or the step times out), and whose compensators send
// each step's configured compensation command. Per spec.md's saga semantics
// compensation is fire-and-forget: it does not itself wait for a reply.
func Build(sagaType string, steps []StepSpec, sagaBus *SagaEventBus, replies *ReplyStore) workflow.Definition {
	def := workflow.Definition{Name: sagaType}

	for _, spec := range steps {
		spec := spec
		def.Steps = append(def.Steps, workflow.Step{
			StepID:     spec.StepID,
			Name:       spec.Name,
			Type:       workflow.StepTypeAction,
			Timeout:    spec.Timeout,
			RetryCount: spec.RetryCount,
			Action:     actionFor(spec, sagaBus, replies),
			Compensate: compensatorFor(spec, sagaBus),
		})
	}

	return def
}

func actionFor(spec StepSpec, sagaBus *SagaEventBus, replies *ReplyStore) workflow.ActionFunc {
	return func(c *workflow.Context) (workflow.StepResult, error) {
		payload, err := buildPayload(spec, c)
		if err != nil {
			return workflow.StepResult{}, err
		}

		ch := replies.register(c.WorkflowID, spec.StepID)
		subID, err := sagaBus.SubscribeReply(spec.SuccessReplyType, replyHandler(c.WorkflowID, spec.StepID, true, replies))
		if err != nil {
			return workflow.StepResult{}, err
		}
		defer sagaBus.Unsubscribe(subID)

		var failSubID string
		if spec.FailureReplyType != "" {
			failSubID, err = sagaBus.SubscribeReply(spec.FailureReplyType, replyHandler(c.WorkflowID, spec.StepID, false, replies))
			if err != nil {
				return workflow.StepResult{}, err
			}
			defer sagaBus.Unsubscribe(failSubID)
		}

		if err := sagaBus.SendCommand(context.Background(), spec.StepID, spec.CommandType, payload); err != nil {
			return workflow.StepResult{}, fmt.Errorf("saga: failed to send command %s: %w", spec.CommandType, err)
		}

		rep := <-ch
		if !rep.success {
			return workflow.StepResult{Success: false, Err: fmt.Errorf("saga: step %s failed: %s", spec.StepID, rep.errMsg)}, nil
		}
		return workflow.StepResult{Success: true, Data: rep.payload}, nil
	}
}

func replyHandler(workflowID, stepID string, success bool, replies *ReplyStore) func(ctx context.Context, e events.Event) error {
	return func(ctx context.Context, e events.Event) error {
		if e.Metadata.Headers["step_id"] != stepID {
			return nil
		}
		payload, _ := e.Payload.(map[string]interface{})
		replies.deliver(workflowID, stepID, reply{success: success, payload: payload})
		return nil
	}
}

func compensatorFor(spec StepSpec, sagaBus *SagaEventBus) workflow.CompensatorFunc {
	if spec.CompensationCommandType == "" {
		return nil
	}
	return func(c *workflow.Context) error {
		payload, err := buildPayload(spec, c)
		if err != nil {
			return err
		}
		return sagaBus.SendCommand(context.Background(), spec.StepID, spec.CompensationCommandType, payload)
	}
}

func buildPayload(spec StepSpec, c *workflow.Context) (interface{}, error) {
	if spec.BuildPayload == nil {
		return c.Variables, nil
	}
	return spec.BuildPayload(c)
}
