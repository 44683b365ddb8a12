package sdk

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// NodePhase is the per-node state within one execution (one loop iteration).
type NodePhase string

const (
	PhasePending             NodePhase = "PENDING"
	PhaseReady               NodePhase = "READY"
	PhaseExecuting           NodePhase = "EXECUTING"
	PhaseCompleted           NodePhase = "COMPLETED"
	PhaseFailed              NodePhase = "FAILED"
	PhaseStopped             NodePhase = "STOPPED"
	PhaseSkipped             NodePhase = "SKIPPED"
	PhaseAwaitingInteraction NodePhase = "AWAITING_INTERACTION"
)

// IsTerminal reports whether the phase ends the node's participation in the
// current iteration. AWAITING_INTERACTION is not terminal: the node is parked
// until a human decision arrives.
func (p NodePhase) IsTerminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseStopped, PhaseSkipped:
		return true
	}
	return false
}

// ExecutionStatus is the lifecycle state of a whole execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "PENDING"
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusCompleted ExecutionStatus = "COMPLETED"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusStopped   ExecutionStatus = "STOPPED"
	StatusPaused    ExecutionStatus = "PAUSED"
)

// NodeResult records one node's outcome. StartedAt is written when the first
// attempt begins and is never overwritten by retries or soft-error
// normalization.
type NodeResult struct {
	Success     bool           `json:"success"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PendingInteraction is a parked human decision. The sweeper expires entries
// past ExpiresAt through the cancellation path.
type PendingInteraction struct {
	NodeID          string         `json:"node_id"`
	InteractionID   string         `json:"interaction_id"`
	InteractionType string         `json:"interaction_type"`
	Message         string         `json:"message,omitempty"`
	ReviewURL       string         `json:"review_url,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
}

// Variable namespaces inside ExecutionContext.Variables.
const (
	VarTriggerData = "trigger_data"
	VarNodes       = "_nodes"
)

// ExecutionContext holds the mutable state of one execution. It is created by
// the orchestrator, mutated only from the scheduler goroutine, and snapshot
// into NodeExecutionInput for node code.
type ExecutionContext struct {
	ExecutionID         string                         `json:"execution_id"`
	WorkflowID          string                         `json:"workflow_id"`
	ExecutionMode       string                         `json:"execution_mode"`
	StartedBy           string                         `json:"started_by,omitempty"`
	StartedAt           time.Time                      `json:"started_at"`
	CompletedAt         *time.Time                     `json:"completed_at,omitempty"`
	Status              ExecutionStatus                `json:"status"`
	NodeOutputs         map[string]map[string]any      `json:"node_outputs"`
	NodeResults         map[string]*NodeResult         `json:"node_results"`
	Variables           map[string]any                 `json:"variables"`
	Errors              []string                       `json:"errors,omitempty"`
	PendingInteractions map[string]*PendingInteraction `json:"pending_interactions,omitempty"`
	FrontendOrigin      string                         `json:"frontend_origin,omitempty"`

	// variableKeys maps node_id to its slot under Variables["_nodes"].
	// Assigned once at construction from the full definition so duplicate
	// display names resolve the same way on every run.
	variableKeys map[string]string
}

// NewExecutionContext creates the per-execution state for a definition. The
// definition's variables map is copied; trigger data, when present, is merged
// under the trigger_data key.
func NewExecutionContext(def *WorkflowDefinition, startedBy string, triggerData map[string]any) *ExecutionContext {
	vars := make(map[string]any, len(def.Variables)+2)
	for k, v := range def.Variables {
		vars[k] = v
	}
	if triggerData != nil {
		vars[VarTriggerData] = triggerData
	}

	return &ExecutionContext{
		ExecutionID:         uuid.New().String(),
		WorkflowID:          def.WorkflowID,
		ExecutionMode:       "parallel",
		StartedBy:           startedBy,
		StartedAt:           time.Now().UTC(),
		Status:              StatusPending,
		NodeOutputs:         make(map[string]map[string]any),
		NodeResults:         make(map[string]*NodeResult),
		Variables:           vars,
		PendingInteractions: make(map[string]*PendingInteraction),
		variableKeys:        assignVariableKeys(def),
	}
}

// TriggerData returns the trigger payload for this execution, or nil.
func (c *ExecutionContext) TriggerData() map[string]any {
	if td, ok := c.Variables[VarTriggerData].(map[string]any); ok {
		return td
	}
	return nil
}

// RecordError appends a workflow-level error message.
func (c *ExecutionContext) RecordError(msg string) {
	c.Errors = append(c.Errors, msg)
}

// PublishNodeVariable copies a completed node's outputs into the "_nodes"
// variable namespace under the node's pre-assigned key. When the outputs hold
// a single "output" key whose value is a map, that map is published directly;
// otherwise the full outputs map is.
func (c *ExecutionContext) PublishNodeVariable(nodeID string, outputs map[string]any) {
	key, ok := c.variableKeys[nodeID]
	if !ok {
		return
	}

	value := any(outputs)
	if len(outputs) == 1 {
		if inner, isMap := outputs["output"].(map[string]any); isMap {
			value = inner
		}
	}

	nodesNS, ok := c.Variables[VarNodes].(map[string]any)
	if !ok {
		nodesNS = make(map[string]any)
		c.Variables[VarNodes] = nodesNS
	}
	nodesNS[key] = value
}

// VariableKey returns the "_nodes" slot assigned to nodeID, if any.
func (c *ExecutionContext) VariableKey(nodeID string) (string, bool) {
	key, ok := c.variableKeys[nodeID]
	return key, ok
}

// VariablesSnapshot returns a shallow copy of the variables map for handing
// to node code. Nested values are shared; nodes must treat them as read-only.
func (c *ExecutionContext) VariablesSnapshot() map[string]any {
	snap := make(map[string]any, len(c.Variables))
	for k, v := range c.Variables {
		snap[k] = v
	}
	return snap
}

// assignVariableKeys computes the "_nodes" key per sharing node. Keys come
// from variable_name when set, else the sanitized display name. Collisions
// get _1, _2, ... suffixes in sorted node_id order, so the assignment is
// stable across runs regardless of completion order.
func assignVariableKeys(def *WorkflowDefinition) map[string]string {
	sharing := make([]*NodeConfiguration, 0)
	for i := range def.Nodes {
		if def.Nodes[i].ShareOutputToVariables {
			sharing = append(sharing, &def.Nodes[i])
		}
	}
	sort.Slice(sharing, func(i, j int) bool { return sharing[i].NodeID < sharing[j].NodeID })

	keys := make(map[string]string, len(sharing))
	taken := make(map[string]bool, len(sharing))
	for _, n := range sharing {
		base := n.VariableName
		if base == "" {
			base = SanitizeVariableName(n.Name)
		}
		key := base
		for i := 1; taken[key]; i++ {
			key = fmt.Sprintf("%s_%d", base, i)
		}
		taken[key] = true
		keys[n.NodeID] = key
	}
	return keys
}

// SanitizeVariableName lowercases the name, replaces non-alphanumeric runes
// with underscores, and prefixes an underscore when the result starts with a
// digit.
func SanitizeVariableName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		return "_"
	}
	if unicode.IsDigit(rune(out[0])) {
		out = "_" + out
	}
	return out
}
