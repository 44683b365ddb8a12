package triggers

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/common/sdk"
)

type memoryDefinitions map[string]*sdk.WorkflowDefinition

func (m memoryDefinitions) Definition(_ context.Context, workflowID string) (*sdk.WorkflowDefinition, error) {
	def, ok := m[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow not found: %s", workflowID)
	}
	return def, nil
}

type fakeEngine struct {
	mu        sync.Mutex
	spawns    []string
	sources   []string
	cancelled map[string]int
	spawnErr  error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{cancelled: make(map[string]int)}
}

func (e *fakeEngine) Spawn(_ context.Context, workflowID string, _ map[string]any, source string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.spawnErr != nil {
		return "", e.spawnErr
	}
	e.spawns = append(e.spawns, workflowID)
	e.sources = append(e.sources, source)
	return fmt.Sprintf("exec-%d", len(e.spawns)), nil
}

func (e *fakeEngine) CancelWorkflowExecutions(_ context.Context, workflowID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled[workflowID]++
	return 2
}

func (e *fakeEngine) spawnCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.spawns)
}

func (e *fakeEngine) cancelCalls(workflowID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[workflowID]
}

// triggerRecorder collects the trigger instances that actually started
// monitoring. Registration probes the factory once, so instances are
// recorded at StartMonitoring rather than at construction.
type triggerRecorder struct {
	mu         sync.Mutex
	monitoring []*fakeTrigger
}

func (r *triggerRecorder) add(t *fakeTrigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitoring = append(r.monitoring, t)
}

func (r *triggerRecorder) started() []*fakeTrigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*fakeTrigger, len(r.monitoring))
	copy(out, r.monitoring)
	return out
}

type fakeTrigger struct {
	rec      *triggerRecorder
	startErr error

	mu       sync.Mutex
	spawn    sdk.SpawnFunc
	stopped  int
	cleanups int
}

func (t *fakeTrigger) InputPorts() []sdk.Port { return nil }
func (t *fakeTrigger) OutputPorts() []sdk.Port {
	return []sdk.Port{{Name: "output", Type: sdk.PortTypeUniversal}}
}
func (t *fakeTrigger) ConfigSchema() map[string]any { return map[string]any{} }
func (t *fakeTrigger) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	return map[string]any{"output": in.NodeID}, nil
}

func (t *fakeTrigger) StartMonitoring(_ context.Context, _ string, _ map[string]any, spawn sdk.SpawnFunc) error {
	if t.startErr != nil {
		return t.startErr
	}
	t.mu.Lock()
	t.spawn = spawn
	t.mu.Unlock()
	t.rec.add(t)
	return nil
}

func (t *fakeTrigger) StopMonitoring(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped++
	return nil
}

func (t *fakeTrigger) Cleanup(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanups++
	return nil
}

func (t *fakeTrigger) fire(data map[string]any, source string) (string, error) {
	t.mu.Lock()
	spawn := t.spawn
	t.mu.Unlock()
	return spawn(context.Background(), "", data, source)
}

func triggeredDef(workflowID string, triggerCount int) *sdk.WorkflowDefinition {
	def := &sdk.WorkflowDefinition{WorkflowID: workflowID, Name: workflowID}
	for i := 0; i < triggerCount; i++ {
		def.Nodes = append(def.Nodes, sdk.NodeConfiguration{
			NodeID:   fmt.Sprintf("trig-%d", i),
			NodeType: "watch",
			Name:     fmt.Sprintf("trig-%d", i),
			Category: sdk.CategoryTriggers,
		})
	}
	def.Nodes = append(def.Nodes, sdk.NodeConfiguration{
		NodeID:   "work",
		NodeType: "watch_handler",
		Name:     "work",
	})
	return def
}

func newManager(t *testing.T, defs memoryDefinitions, engine Engine) (*Manager, *triggerRecorder) {
	t.Helper()
	rec := &triggerRecorder{}
	registry := sdk.NewRegistry()
	registry.MustRegister(sdk.Registration{
		Type:         "watch",
		Factory:      func() sdk.Node { return &fakeTrigger{rec: rec} },
		Capabilities: sdk.Capabilities{Trigger: true},
	})
	m := NewManager(Opts{
		Definitions: defs,
		Registry:    registry,
		Engine:      engine,
		Constraints: sdk.DefaultConstraints(),
	})
	return m, rec
}

func TestActivateStartsAllTriggers(t *testing.T) {
	engine := newFakeEngine()
	m, rec := newManager(t, memoryDefinitions{"wf": triggeredDef("wf", 2)}, engine)

	require.NoError(t, m.Activate(context.Background(), "wf"))
	assert.Len(t, rec.started(), 2)
	assert.True(t, m.IsWorkflowActive("wf"))
	assert.Equal(t, []string{"wf"}, m.ActiveWorkflows())
}

func TestActivateIsIdempotent(t *testing.T) {
	engine := newFakeEngine()
	m, rec := newManager(t, memoryDefinitions{"wf": triggeredDef("wf", 1)}, engine)

	ctx := context.Background()
	require.NoError(t, m.Activate(ctx, "wf"))
	require.NoError(t, m.Activate(ctx, "wf"))
	assert.Len(t, rec.started(), 1)
}

func TestActivateRequiresTriggerNodes(t *testing.T) {
	engine := newFakeEngine()
	def := &sdk.WorkflowDefinition{
		WorkflowID: "plain",
		Nodes:      []sdk.NodeConfiguration{{NodeID: "a", NodeType: "watch_handler", Name: "a"}},
	}
	m, _ := newManager(t, memoryDefinitions{"plain": def}, engine)

	err := m.Activate(context.Background(), "plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no trigger nodes")
	assert.False(t, m.IsWorkflowActive("plain"))
}

func TestActivateUnknownWorkflow(t *testing.T) {
	m, _ := newManager(t, memoryDefinitions{}, newFakeEngine())

	err := m.Activate(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load workflow ghost")
}

func TestActivateRollsBackWhenATriggerFailsToStart(t *testing.T) {
	rec := &triggerRecorder{}
	registry := sdk.NewRegistry()
	registry.MustRegister(sdk.Registration{
		Type:         "watch",
		Factory:      func() sdk.Node { return &fakeTrigger{rec: rec} },
		Capabilities: sdk.Capabilities{Trigger: true},
	})
	registry.MustRegister(sdk.Registration{
		Type:         "broken_watch",
		Factory:      func() sdk.Node { return &fakeTrigger{rec: rec, startErr: fmt.Errorf("socket in use")} },
		Capabilities: sdk.Capabilities{Trigger: true},
	})

	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes: []sdk.NodeConfiguration{
			{NodeID: "t1", NodeType: "watch", Name: "t1", Category: sdk.CategoryTriggers},
			{NodeID: "t2", NodeType: "broken_watch", Name: "t2", Category: sdk.CategoryTriggers},
		},
	}
	engine := newFakeEngine()
	m := NewManager(Opts{
		Definitions: memoryDefinitions{"wf": def},
		Registry:    registry,
		Engine:      engine,
		Constraints: sdk.DefaultConstraints(),
	})

	err := m.Activate(context.Background(), "wf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start trigger t2")
	assert.False(t, m.IsWorkflowActive("wf"))

	// The trigger that did start was stopped again.
	started := rec.started()
	require.Len(t, started, 1)
	started[0].mu.Lock()
	defer started[0].mu.Unlock()
	assert.Equal(t, 1, started[0].stopped)
}

func TestSpawnCallbackReachesEngine(t *testing.T) {
	engine := newFakeEngine()
	m, rec := newManager(t, memoryDefinitions{"wf": triggeredDef("wf", 1)}, engine)

	require.NoError(t, m.Activate(context.Background(), "wf"))
	trig := rec.started()[0]

	id, err := trig.fire(map[string]any{"path": "/tmp/in.csv"}, "file_watch")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, []string{"wf"}, engine.spawns)
	assert.Equal(t, []string{"file_watch"}, engine.sources)
}

func TestSpawnFailureSurfacesToTrigger(t *testing.T) {
	engine := newFakeEngine()
	engine.spawnErr = fmt.Errorf("draining")
	m, rec := newManager(t, memoryDefinitions{"wf": triggeredDef("wf", 1)}, engine)

	require.NoError(t, m.Activate(context.Background(), "wf"))
	_, err := rec.started()[0].fire(nil, "schedule")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "draining")
}

func TestDeactivateStopsTriggersAndCancelsExecutions(t *testing.T) {
	engine := newFakeEngine()
	m, rec := newManager(t, memoryDefinitions{"wf": triggeredDef("wf", 2)}, engine)

	ctx := context.Background()
	require.NoError(t, m.Activate(ctx, "wf"))
	require.NoError(t, m.Deactivate(ctx, "wf"))

	assert.False(t, m.IsWorkflowActive("wf"))
	assert.Equal(t, 1, engine.cancelCalls("wf"))
	for _, trig := range rec.started() {
		trig.mu.Lock()
		assert.Equal(t, 1, trig.stopped)
		assert.Equal(t, 1, trig.cleanups)
		trig.mu.Unlock()
	}

	// Deactivating again is a no-op.
	require.NoError(t, m.Deactivate(ctx, "wf"))
	assert.Equal(t, 1, engine.cancelCalls("wf"))
}

func TestDeactivateUnknownWorkflowIsNoop(t *testing.T) {
	m, _ := newManager(t, memoryDefinitions{}, newFakeEngine())
	require.NoError(t, m.Deactivate(context.Background(), "never-activated"))
}

func TestShutdownStopsMonitoringButKeepsExecutions(t *testing.T) {
	engine := newFakeEngine()
	defs := memoryDefinitions{
		"wf-a": triggeredDef("wf-a", 1),
		"wf-b": triggeredDef("wf-b", 1),
	}
	m, rec := newManager(t, defs, engine)

	ctx := context.Background()
	require.NoError(t, m.Activate(ctx, "wf-a"))
	require.NoError(t, m.Activate(ctx, "wf-b"))

	m.Shutdown(ctx)

	assert.False(t, m.IsWorkflowActive("wf-a"))
	assert.False(t, m.IsWorkflowActive("wf-b"))
	for _, trig := range rec.started() {
		trig.mu.Lock()
		assert.Equal(t, 1, trig.stopped)
		trig.mu.Unlock()
	}
	// In-flight executions drain elsewhere; shutdown never cancels them.
	assert.Equal(t, 0, engine.cancelCalls("wf-a"))
	assert.Equal(t, 0, engine.cancelCalls("wf-b"))
	assert.Equal(t, 0, engine.spawnCount())
}
