// Package triggers keeps persistent workflows live. Activating a workflow
// instantiates each of its trigger nodes and hands the node a spawn callback;
// the node monitors its source (HTTP endpoint, schedule, filesystem, ...) on
// its own goroutine and calls back to start one-shot executions. The manager
// owns the active set and the per-workflow spawn rate limit.
package triggers

import (
	"context"
	"fmt"
	"sync"

	"github.com/weftworks/weft/common/ratelimit"
	"github.com/weftworks/weft/common/sdk"
	"github.com/weftworks/weft/common/telemetry"
)

// Logger is the minimal logging interface the manager needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Debug(string, ...any) {}

// DefinitionSource loads workflow definitions by id.
type DefinitionSource interface {
	Definition(ctx context.Context, workflowID string) (*sdk.WorkflowDefinition, error)
}

// Engine is the execution side the manager spawns into: the orchestrator.
type Engine interface {
	Spawn(ctx context.Context, workflowID string, triggerData map[string]any, source string) (string, error)
	CancelWorkflowExecutions(ctx context.Context, workflowID string) int
}

// Opts wires a Manager's collaborators.
type Opts struct {
	Definitions DefinitionSource
	Registry    *sdk.Registry
	Engine      Engine
	Limiter     *ratelimit.RateLimiter // nil disables spawn rate limiting
	Metrics     *telemetry.Metrics     // nil disables trigger metrics
	Constraints sdk.ExecutionConstraints
	Logger      Logger
}

// boundTrigger is one monitoring trigger node of an active workflow.
type boundTrigger struct {
	nodeID   string
	nodeType string
	instance sdk.Node
}

// activation tracks one workflow's trigger state. Its mutex serializes
// activate/deactivate for that workflow only, so distinct workflows never
// block each other.
type activation struct {
	mu       sync.Mutex
	active   bool
	triggers []boundTrigger
	cancel   context.CancelFunc
}

// Manager is the process-wide trigger registry. One per service instance.
type Manager struct {
	opts    Opts
	logger  Logger
	baseCtx context.Context
	stopAll context.CancelFunc

	mu        sync.Mutex
	workflows map[string]*activation
}

// NewManager creates a trigger manager. Monitoring goroutines are parented
// to the manager's own context so Shutdown can stop every trigger at once.
func NewManager(opts Opts) *Manager {
	log := opts.Logger
	if log == nil {
		log = nopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:      opts,
		logger:    log,
		baseCtx:   ctx,
		stopAll:   cancel,
		workflows: make(map[string]*activation),
	}
}

// Activate starts monitoring for every trigger node in the workflow.
// Activating an already-active workflow is a no-op.
func (m *Manager) Activate(ctx context.Context, workflowID string) error {
	def, err := m.opts.Definitions.Definition(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	if !def.HasTriggers() {
		return fmt.Errorf("workflow %s has no trigger nodes", workflowID)
	}

	act := m.entry(workflowID)
	act.mu.Lock()
	defer act.mu.Unlock()
	if act.active {
		m.logger.Debug("workflow already active", "workflow_id", workflowID)
		return nil
	}

	limits, err := m.opts.Constraints.WithOverrides(def.ExecutionConstraints)
	if err != nil {
		return fmt.Errorf("invalid execution constraints for workflow %s: %w", workflowID, err)
	}
	spawn := m.spawnFunc(workflowID, limits.MaxSpawnsPerMinute)

	monitorCtx, cancel := context.WithCancel(m.baseCtx)
	var started []boundTrigger
	for i := range def.Nodes {
		nodeCfg := &def.Nodes[i]
		if !nodeCfg.IsTrigger() {
			continue
		}
		bound, err := m.startOne(monitorCtx, workflowID, nodeCfg, spawn)
		if err != nil {
			m.stopTriggers(ctx, workflowID, started)
			cancel()
			return fmt.Errorf("failed to start trigger %s (%s): %w", nodeCfg.NodeID, nodeCfg.NodeType, err)
		}
		started = append(started, bound)
	}

	act.active = true
	act.triggers = started
	act.cancel = cancel
	m.logger.Info("workflow activated",
		"workflow_id", workflowID, "triggers", len(started))
	return nil
}

func (m *Manager) startOne(ctx context.Context, workflowID string, cfg *sdk.NodeConfiguration, spawn sdk.SpawnFunc) (boundTrigger, error) {
	instance, err := m.opts.Registry.Create(cfg.NodeType)
	if err != nil {
		return boundTrigger{}, err
	}
	trigger, ok := instance.(sdk.Trigger)
	if !ok {
		return boundTrigger{}, fmt.Errorf("node type %s is not a trigger", cfg.NodeType)
	}
	if err := trigger.StartMonitoring(ctx, workflowID, cfg.Config, spawn); err != nil {
		return boundTrigger{}, err
	}
	m.logger.Info("trigger monitoring started",
		"workflow_id", workflowID, "node_id", cfg.NodeID, "node_type", cfg.NodeType)
	return boundTrigger{nodeID: cfg.NodeID, nodeType: cfg.NodeType, instance: instance}, nil
}

// Deactivate stops every trigger of the workflow and cancels its in-flight
// executions. Deactivating an inactive workflow is a no-op.
func (m *Manager) Deactivate(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	act, ok := m.workflows[workflowID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	act.mu.Lock()
	defer act.mu.Unlock()
	if !act.active {
		return nil
	}

	m.stopTriggers(ctx, workflowID, act.triggers)
	act.cancel()
	act.active = false
	act.triggers = nil

	if cancelled := m.opts.Engine.CancelWorkflowExecutions(ctx, workflowID); cancelled > 0 {
		m.logger.Info("cancelled in-flight executions on deactivate",
			"workflow_id", workflowID, "count", cancelled)
	}
	m.logger.Info("workflow deactivated", "workflow_id", workflowID)
	return nil
}

func (m *Manager) stopTriggers(ctx context.Context, workflowID string, triggers []boundTrigger) {
	for _, t := range triggers {
		if err := t.instance.(sdk.Trigger).StopMonitoring(ctx); err != nil {
			m.logger.Warn("trigger stop failed",
				"workflow_id", workflowID, "node_id", t.nodeID, "error", err)
		}
		if cleaner, ok := t.instance.(sdk.Cleaner); ok {
			if err := cleaner.Cleanup(ctx); err != nil {
				m.logger.Warn("trigger cleanup failed",
					"workflow_id", workflowID, "node_id", t.nodeID, "error", err)
			}
		}
	}
}

// IsWorkflowActive reports whether the workflow currently has live triggers.
func (m *Manager) IsWorkflowActive(workflowID string) bool {
	m.mu.Lock()
	act, ok := m.workflows[workflowID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	act.mu.Lock()
	defer act.mu.Unlock()
	return act.active
}

// ActiveWorkflows returns the ids of all workflows with live triggers.
func (m *Manager) ActiveWorkflows() []string {
	m.mu.Lock()
	entries := make(map[string]*activation, len(m.workflows))
	for id, act := range m.workflows {
		entries[id] = act
	}
	m.mu.Unlock()

	var ids []string
	for id, act := range entries {
		act.mu.Lock()
		if act.active {
			ids = append(ids, id)
		}
		act.mu.Unlock()
	}
	return ids
}

// Shutdown stops all monitoring. Unlike Deactivate it leaves in-flight
// executions alone: on graceful shutdown they finish under the
// orchestrator's drain, after which the process exits.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, id := range m.ActiveWorkflows() {
		m.mu.Lock()
		act := m.workflows[id]
		m.mu.Unlock()

		act.mu.Lock()
		if act.active {
			m.stopTriggers(ctx, id, act.triggers)
			act.cancel()
			act.active = false
			act.triggers = nil
		}
		act.mu.Unlock()
	}
	m.stopAll()
	m.logger.Info("trigger manager stopped")
}

func (m *Manager) entry(workflowID string) *activation {
	m.mu.Lock()
	defer m.mu.Unlock()
	act, ok := m.workflows[workflowID]
	if !ok {
		act = &activation{}
		m.workflows[workflowID] = act
	}
	return act
}

// spawnFunc builds the callback handed to each trigger. It applies the
// workflow's spawn rate limit before starting an execution; limiter errors
// fail open so a Redis outage degrades to unlimited spawns instead of a
// dead trigger.
func (m *Manager) spawnFunc(workflowID string, perMinute int) sdk.SpawnFunc {
	return func(ctx context.Context, _ string, triggerData map[string]any, source string) (string, error) {
		if perMinute > 0 && m.opts.Limiter != nil {
			res, err := m.opts.Limiter.CheckSpawnLimit(ctx, workflowID, int64(perMinute))
			if err == nil && !res.Allowed {
				m.logger.Warn("trigger spawn suppressed by rate limit",
					"workflow_id", workflowID, "source", source,
					"limit", res.Limit, "retry_after", res.RetryAfterSeconds)
				return "", fmt.Errorf("workflow %s exceeded %d spawns per minute", workflowID, perMinute)
			}
		}

		executionID, err := m.opts.Engine.Spawn(ctx, workflowID, triggerData, source)
		if err != nil {
			m.logger.Error("trigger spawn failed",
				"workflow_id", workflowID, "source", source, "error", err)
			return "", err
		}
		if m.opts.Metrics != nil {
			m.opts.Metrics.TriggerSpawned(source)
		}
		m.logger.Info("trigger spawned execution",
			"workflow_id", workflowID, "execution_id", executionID, "source", source)
		return executionID, nil
	}
}
