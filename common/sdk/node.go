package sdk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Resource pool names. Multi-pool nodes acquire permits in ascending name
// order (ai < llm < standard) and release in reverse, so acquisition order is
// consistent across all nodes.
const (
	PoolStandard = "standard"
	PoolLLM      = "llm"
	PoolAI       = "ai"
)

var (
	// ErrUnknownNodeType is returned when a definition references a node
	// type that was never registered.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrDuplicateNodeType is returned when a type is registered twice.
	ErrDuplicateNodeType = errors.New("node type already registered")
)

// Await marker outputs. A node that returns AwaitKey set to AwaitHumanInput
// parks in AWAITING_INTERACTION instead of completing; the remaining output
// keys (interaction_id, message, review_url, payload) describe the pending
// decision.
const (
	AwaitKey        = "_await"
	AwaitHumanInput = "human_input"
)

// RunNodeFunc re-enters single-node execution for a tool node. Inputs replace
// the assembled port map; configOverride, when non-nil, is merge-patched over
// the target's configuration for this invocation only.
type RunNodeFunc func(ctx context.Context, nodeID string, inputs map[string]any, configOverride map[string]any) (map[string]any, error)

// SpawnFunc starts a one-shot execution of a persistent workflow with the
// trigger's payload. It returns the new execution id.
type SpawnFunc func(ctx context.Context, workflowID string, triggerData map[string]any, source string) (string, error)

// ChatMessage is one turn in an LLM conversation.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec advertises a callable tool to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatRequest is a provider-neutral chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float32
	MaxTokens   int
	Tools       []ToolSpec
}

// ChatResponse is the provider-neutral completion result.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	PromptTokens int
	OutputTokens int
}

// LLMGateway is the engine-provided path to language models. Its lifetime
// follows the process, not individual nodes; node code never opens provider
// connections itself.
type LLMGateway interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// CredentialSource resolves a credential id to its decrypted field map. The
// engine forwards the maps to nodes without inspecting or logging them.
type CredentialSource interface {
	Get(ctx context.Context, id int) (map[string]string, error)
}

// RecordSink is the persistence boundary for execution records. The engine
// writes through it and never opens storage connections directly.
type RecordSink interface {
	Create(ctx context.Context, execution *ExecutionContext) error
	UpdateStatus(ctx context.Context, executionID string, status ExecutionStatus, errorMessage string, completedAt *time.Time) error
	UpdateNodeResults(ctx context.Context, executionID string, results map[string]*NodeResult) error
}

// NodeExecutionInput carries everything a node invocation may read. Nodes
// hold no reference back into engine state; Variables is a snapshot.
type NodeExecutionInput struct {
	Ports          map[string]any
	WorkflowID     string
	ExecutionID    string
	NodeID         string
	NodeName       string
	Variables      map[string]any
	Config         map[string]any
	Credentials    map[int]map[string]string
	RunNode        RunNodeFunc
	LLM            LLMGateway
	FrontendOrigin string
}

// Node is the contract every concrete node type implements.
type Node interface {
	InputPorts() []Port
	OutputPorts() []Port
	ConfigSchema() map[string]any
	Execute(ctx context.Context, in *NodeExecutionInput) (map[string]any, error)
}

// InteractionRequest is the resume payload for a parked human decision.
type InteractionRequest struct {
	Action       string         `json:"action"`
	Form         map[string]any `json:"form,omitempty"`
	Continuation string         `json:"continuation,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// InteractionHandler is implemented by node types whose capability set
// declares human_interaction. The returned map becomes the node's final
// output.
type InteractionHandler interface {
	HandleInteraction(ctx context.Context, req *InteractionRequest) (map[string]any, error)
}

// Trigger is implemented by node types whose capability set declares trigger.
// StartMonitoring receives the trigger node's config and must return promptly
// after launching its monitoring task; StopMonitoring cancels that task and
// closes external resources.
type Trigger interface {
	StartMonitoring(ctx context.Context, workflowID string, config map[string]any, spawn SpawnFunc) error
	StopMonitoring(ctx context.Context) error
}

// Cleaner is implemented by node types holding resources that outlive a
// single Execute call. The engine invokes Cleanup after failures and when an
// execution ends.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Capabilities is the explicit declaration a node type makes at registration.
// The engine dispatches optional behaviors through it instead of probing
// instances at runtime.
type Capabilities struct {
	// Pools lists the resource pools Execute runs under. Empty means the
	// standard pool.
	Pools []string

	Trigger          bool
	HumanInteraction bool
}

// RequiredPools returns the pool set in acquisition order.
func (c Capabilities) RequiredPools() []string {
	if len(c.Pools) == 0 {
		return []string{PoolStandard}
	}
	pools := make([]string, 0, len(c.Pools))
	seen := make(map[string]bool, len(c.Pools))
	for _, p := range c.Pools {
		if !seen[p] {
			seen[p] = true
			pools = append(pools, p)
		}
	}
	sort.Strings(pools)
	return pools
}

// NodeFactory builds a fresh node instance. Instances live for one execution
// and are dropped when it ends.
type NodeFactory func() Node

// Registration binds a node type name to its factory and capability set.
type Registration struct {
	Type         string
	Factory      NodeFactory
	Capabilities Capabilities
}

// Registry maps node type names to registrations. Populated at startup,
// read-only afterwards; safe for concurrent reads.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry creates an empty node registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds a node type. Declared optional capabilities are checked
// against the factory's product once, here, so a mismatch fails at startup
// rather than mid-execution.
func (r *Registry) Register(reg Registration) error {
	if reg.Type == "" {
		return fmt.Errorf("node type name is required")
	}
	if reg.Factory == nil {
		return fmt.Errorf("node type %q: factory is required", reg.Type)
	}

	probe := reg.Factory()
	if probe == nil {
		return fmt.Errorf("node type %q: factory returned nil", reg.Type)
	}
	if reg.Capabilities.HumanInteraction {
		if _, ok := probe.(InteractionHandler); !ok {
			return fmt.Errorf("node type %q declares human_interaction but does not implement InteractionHandler", reg.Type)
		}
	}
	if reg.Capabilities.Trigger {
		if _, ok := probe.(Trigger); !ok {
			return fmt.Errorf("node type %q declares trigger but does not implement Trigger", reg.Type)
		}
	}
	for _, p := range reg.Capabilities.Pools {
		if p != PoolStandard && p != PoolLLM && p != PoolAI {
			return fmt.Errorf("node type %q declares unknown pool %q", reg.Type, p)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[reg.Type]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNodeType, reg.Type)
	}
	r.entries[reg.Type] = reg
	return nil
}

// MustRegister registers or panics. For startup wiring.
func (r *Registry) MustRegister(reg Registration) {
	if err := r.Register(reg); err != nil {
		panic(err)
	}
}

// Create instantiates a node of the given type.
func (r *Registry) Create(nodeType string) (Node, error) {
	r.mu.RLock()
	reg, ok := r.entries[nodeType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	return reg.Factory(), nil
}

// Capabilities returns the capability set declared for nodeType.
func (r *Registry) Capabilities(nodeType string) (Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[nodeType]
	return reg.Capabilities, ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
