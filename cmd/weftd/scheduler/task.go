package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/weftworks/weft/common/sdk"
)

// task carries everything one node run needs. It lives on the task goroutine
// after spawn hands it off; the scheduler never touches it again.
type task struct {
	nodeID   string
	nodeType string
	nodeName string

	instance sdk.Node
	handler  sdk.InteractionHandler
	resume   *sdk.InteractionRequest

	input       *sdk.NodeExecutionInput
	pools       []string
	credIDs     []int
	maxAttempts int
	progress    *sdk.Progress
	meta        map[string]any
	toolReply   chan *toolResult

	// holding releases the pool permits of the current attempt. The RunNode
	// callback drops them before asking the scheduler to run a tool and
	// re-acquires afterwards, so an agent never deadlocks its own tools out
	// of a pool it saturates.
	holding func()
}

func (s *Scheduler) runTask(ctx context.Context, t *task) {
	msg := &completion{nodeID: t.nodeID, meta: t.meta, toolReply: t.toolReply}
	msg.outputs, msg.err = s.perform(ctx, t)
	if msg.err == nil && t.toolReply == nil {
		msg.awaiting = pendingFromOutputs(t.nodeID, msg.outputs, s.limits.InteractionDeadline())
	}

	ch := s.msgCh
	if t.toolReply != nil {
		ch = s.toolCh
	}
	select {
	case ch <- msg:
	case <-s.done:
	}
}

func (s *Scheduler) perform(ctx context.Context, t *task) (map[string]any, error) {
	if t.resume == nil {
		if err := validateRequiredPorts(t.nodeID, t.instance, t.input.Ports); err != nil {
			return nil, err
		}
		if len(t.credIDs) > 0 {
			creds, err := s.fetchCredentials(ctx, t.nodeID, t.credIDs)
			if err != nil {
				return nil, err
			}
			t.input.Credentials = creds
		}
	}

	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.limits.RetryBackoff(attempt - 2)):
			}
			s.logger.Warn("retrying node",
				"execution_id", s.ec.ExecutionID,
				"node_id", t.nodeID,
				"attempt", attempt,
				"max_attempts", t.maxAttempts,
				"error", lastErr)
			e := &sdk.Event{
				Type:     sdk.EventNodeStart,
				NodeID:   t.nodeID,
				NodeType: t.nodeType,
				NodeName: t.nodeName,
				Status:   "executing",
				Message:  fmt.Sprintf("attempt %d of %d", attempt, t.maxAttempts),
				Progress: t.progress,
			}
			s.publishEvent(e)
		}

		outputs, err := s.attemptOnce(ctx, t)
		if err == nil {
			return outputs, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (s *Scheduler) attemptOnce(ctx context.Context, t *task) (map[string]any, error) {
	release, err := s.pools.Acquire(ctx, t.pools)
	if err != nil {
		return nil, err
	}
	t.holding = release
	defer func() {
		if t.holding != nil {
			t.holding()
			t.holding = nil
		}
	}()

	nodeCtx, cancel := context.WithTimeout(ctx, s.limits.NodeTimeout())
	defer cancel()

	var outputs map[string]any
	if t.handler != nil {
		outputs, err = t.handler.HandleInteraction(nodeCtx, t.resume)
	} else {
		outputs, err = t.instance.Execute(nodeCtx, t.input)
	}
	if err != nil {
		if nodeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("node timed out after %s: %w", s.limits.NodeTimeout(), err)
		}
		return nil, err
	}
	return outputs, softFailure(t.nodeID, outputs)
}

// runNodeFunc builds the callback an agent uses to invoke its tools. Pool
// permits are handed back for the duration of the tool run and re-acquired
// before control returns to the agent.
func (s *Scheduler) runNodeFunc(t *task) sdk.RunNodeFunc {
	return func(ctx context.Context, nodeID string, inputs map[string]any, configOverride map[string]any) (map[string]any, error) {
		if t.holding != nil {
			t.holding()
			t.holding = nil
		}
		outputs, err := s.requestToolRun(ctx, nodeID, inputs, configOverride)
		if len(t.pools) > 0 {
			release, acqErr := s.pools.Acquire(ctx, t.pools)
			if acqErr != nil {
				return nil, acqErr
			}
			t.holding = release
		}
		return outputs, err
	}
}

func (s *Scheduler) requestToolRun(ctx context.Context, nodeID string, inputs map[string]any, override map[string]any) (map[string]any, error) {
	reply := make(chan *toolResult, 1)
	cmd := &command{
		kind:      cmdRunNode,
		nodeID:    nodeID,
		inputs:    inputs,
		override:  override,
		toolReply: reply,
	}
	select {
	case s.cmdCh <- cmd:
	case <-s.done:
		return nil, ErrFinished
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.outputs, res.err
	case <-s.done:
		return nil, ErrFinished
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pendingFromOutputs detects the await marker a node leaves in its outputs
// when it needs a human decision before the workflow can move past it.
func pendingFromOutputs(nodeID string, outputs map[string]any, ttl time.Duration) *sdk.PendingInteraction {
	if outputs == nil {
		return nil
	}
	marker, _ := outputs[sdk.AwaitKey].(string)
	if marker != sdk.AwaitHumanInput {
		return nil
	}
	now := time.Now().UTC()
	p := &sdk.PendingInteraction{
		NodeID:    nodeID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if id, ok := outputs["interaction_id"].(string); ok && id != "" {
		p.InteractionID = id
	} else {
		p.InteractionID = uuid.New().String()
	}
	if typ, ok := outputs["interaction_type"].(string); ok && typ != "" {
		p.InteractionType = typ
	} else {
		p.InteractionType = "approval"
	}
	if msg, ok := outputs["message"].(string); ok {
		p.Message = msg
	}
	if u, ok := outputs["review_url"].(string); ok {
		p.ReviewURL = u
	}
	if payload, ok := outputs["payload"].(map[string]any); ok {
		p.Payload = payload
	}
	return p
}

// softFailure turns an error reported inside otherwise-successful outputs
// into a NodeError that keeps those outputs attached to the failure record.
func softFailure(nodeID string, outputs map[string]any) error {
	if outputs == nil {
		return nil
	}
	for _, key := range []string{"error", "_error"} {
		v, ok := outputs[key]
		if !ok || v == nil {
			continue
		}
		msg := ""
		switch ev := v.(type) {
		case string:
			if ev == "" {
				continue
			}
			msg = ev
		default:
			msg = fmt.Sprintf("%v", v)
		}
		return &NodeError{NodeID: nodeID, Msg: msg, Soft: true, Outputs: outputs}
	}
	if success, ok := outputs["success"].(bool); ok && !success {
		return &NodeError{NodeID: nodeID, Msg: "node reported success=false", Soft: true, Outputs: outputs}
	}
	return nil
}

func validateRequiredPorts(nodeID string, node sdk.Node, ports map[string]any) error {
	var missing []string
	for _, port := range node.InputPorts() {
		if !port.Required {
			continue
		}
		v, ok := ports[port.Name]
		if !ok || isEmptyValue(v) {
			missing = append(missing, port.Name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{NodeID: nodeID, Missing: missing}
	}
	return nil
}

func retryable(err error) bool {
	var verr *ValidationError
	var cerr *ConfigError
	if errors.As(err, &verr) || errors.As(err, &cerr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func mergeConfig(base map[string]any, override map[string]any) (map[string]any, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	overrideJSON, err := json.Marshal(override)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(baseJSON, overrideJSON)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, err
	}
	return out, nil
}
