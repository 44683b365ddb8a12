package operators

import (
	"sort"
	"testing"

	"github.com/weftworks/weft/cmd/weftd/graph"
	"github.com/weftworks/weft/common/sdk"
)

func node(id string) sdk.NodeConfiguration {
	return sdk.NodeConfiguration{NodeID: id, NodeType: "test_node", Name: id, Category: sdk.CategoryProcessing}
}

func conn(src, srcPort, dst, dstPort string) sdk.Connection {
	return sdk.Connection{
		ConnectionID: src + ":" + srcPort + "->" + dst + ":" + dstPort,
		SourceNodeID: src,
		SourcePort:   srcPort,
		TargetNodeID: dst,
		TargetPort:   dstPort,
	}
}

func mustBuild(t *testing.T, def *sdk.WorkflowDefinition) *graph.Graph {
	t.Helper()
	g, err := graph.Build(def)
	if err != nil {
		t.Fatalf("graph.Build: %v", err)
	}
	return g
}

// complete marks the node completed with the given outputs and routes the
// completion, the way the scheduler does.
func complete(g *graph.Graph, nodeOutputs map[string]map[string]any, id string, outputs map[string]any) RouteResult {
	g.MarkCompleted(id)
	nodeOutputs[id] = outputs
	return RouteCompletion(g, id, nodeOutputs)
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestIsDecision(t *testing.T) {
	tests := []struct {
		name    string
		outputs map[string]any
		want    bool
	}{
		{"nil", nil, false},
		{"plain outputs", map[string]any{"output": 1}, false},
		{"active_path", map[string]any{"active_path": "true"}, true},
		{"blocked only", map[string]any{"blocked_outputs": []any{"false"}}, false},
		{"blocked with result", map[string]any{"blocked_outputs": []any{"false"}, "decision_result": true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDecision(tt.outputs); got != tt.want {
				t.Errorf("IsDecision = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRouteCompletion_LinearChain(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID:  "wf",
		Nodes:       []sdk.NodeConfiguration{node("a"), node("b"), node("c")},
		Connections: []sdk.Connection{conn("a", "output", "b", "input"), conn("b", "output", "c", "input")},
	}
	g := mustBuild(t, def)
	outputs := map[string]map[string]any{}

	g.InitialReady()
	res := complete(g, outputs, "a", map[string]any{"output": 1})
	if len(res.NewlyReady) != 1 || res.NewlyReady[0] != "b" {
		t.Fatalf("after a: newly ready = %v, want [b]", res.NewlyReady)
	}
	if len(res.Skipped) != 0 {
		t.Fatalf("after a: skipped = %v, want none", res.Skipped)
	}

	res = complete(g, outputs, "b", map[string]any{"output": 2})
	if len(res.NewlyReady) != 1 || res.NewlyReady[0] != "c" {
		t.Fatalf("after b: newly ready = %v, want [c]", res.NewlyReady)
	}
}

// Decision D routes true to X, false to Y -> Z. Taking the true branch must
// skip Y and Z and make X ready.
func TestRouteCompletion_BranchPruning(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      []sdk.NodeConfiguration{node("d"), node("x"), node("y"), node("z")},
		Connections: []sdk.Connection{
			conn("d", "true", "x", "input"),
			conn("d", "false", "y", "input"),
			conn("y", "output", "z", "input"),
		},
	}
	g := mustBuild(t, def)
	outputs := map[string]map[string]any{}
	g.InitialReady()

	res := complete(g, outputs, "d", map[string]any{
		"decision_result": true,
		"active_path":     "true",
		"blocked_outputs": []any{"false"},
	})

	if got := sorted(res.Skipped); len(got) != 2 || got[0] != "y" || got[1] != "z" {
		t.Fatalf("skipped = %v, want [y z]", res.Skipped)
	}
	if len(res.NewlyReady) != 1 || res.NewlyReady[0] != "x" {
		t.Fatalf("newly ready = %v, want [x]", res.NewlyReady)
	}
	if g.Node("y").Phase != sdk.PhaseSkipped || g.Node("z").Phase != sdk.PhaseSkipped {
		t.Errorf("y/z phases = %s/%s, want SKIPPED", g.Node("y").Phase, g.Node("z").Phase)
	}
	if g.Node("x").Phase != sdk.PhaseReady {
		t.Errorf("x phase = %s, want READY", g.Node("x").Phase)
	}
}

// A join fed by both branches of a decision survives pruning: the skipped
// branch resolves its dependency as if it had completed.
func TestRouteCompletion_JoinRescue(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      []sdk.NodeConfiguration{node("d"), node("x"), node("y"), node("w")},
		Connections: []sdk.Connection{
			conn("d", "true", "x", "input"),
			conn("d", "false", "y", "input"),
			conn("x", "output", "w", "input"),
			conn("y", "output", "w", "input"),
		},
	}
	g := mustBuild(t, def)
	outputs := map[string]map[string]any{}
	g.InitialReady()

	res := complete(g, outputs, "d", map[string]any{"active_path": "true"})
	if len(res.Skipped) != 1 || res.Skipped[0] != "y" {
		t.Fatalf("skipped = %v, want [y]", res.Skipped)
	}
	w := g.Node("w")
	if w.Phase != sdk.PhasePending {
		t.Fatalf("w phase = %s, want PENDING after rescue", w.Phase)
	}
	if !w.DepResolvedBySkip {
		t.Error("w.DepResolvedBySkip = false, want true")
	}
	if w.RemainingDeps != 1 {
		t.Errorf("w.RemainingDeps = %d, want 1", w.RemainingDeps)
	}

	res = complete(g, outputs, "x", map[string]any{"output": "ok"})
	if len(res.NewlyReady) != 1 || res.NewlyReady[0] != "w" {
		t.Fatalf("after x: newly ready = %v, want [w]", res.NewlyReady)
	}
}

// A node fed directly by a blocked decision edge plus an independent live
// edge still becomes ready: the decision completed, so its edge is a
// satisfied dependency even though it is blocked.
func TestRouteCompletion_BlockedEdgeIntoLiveJoin(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      []sdk.NodeConfiguration{node("d"), node("l"), node("w")},
		Connections: []sdk.Connection{
			conn("d", "false", "w", "input"),
			conn("l", "output", "w", "input"),
		},
	}
	g := mustBuild(t, def)
	outputs := map[string]map[string]any{}
	g.InitialReady()

	res := complete(g, outputs, "d", map[string]any{"active_path": "true"})
	if len(res.Skipped) != 0 {
		t.Fatalf("skipped = %v, want none", res.Skipped)
	}
	if g.Node("w").RemainingDeps != 1 {
		t.Fatalf("w.RemainingDeps = %d, want 1", g.Node("w").RemainingDeps)
	}

	res = complete(g, outputs, "l", map[string]any{"output": 1})
	if len(res.NewlyReady) != 1 || res.NewlyReady[0] != "w" {
		t.Fatalf("after l: newly ready = %v, want [w]", res.NewlyReady)
	}
}

// Two decisions each block one path into a diamond join. The join is only
// skipped once both its feeders are.
func TestRouteCompletion_DiamondConverges(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      []sdk.NodeConfiguration{node("d1"), node("d2"), node("x"), node("y"), node("z")},
		Connections: []sdk.Connection{
			conn("d1", "false", "x", "input"),
			conn("d2", "false", "y", "input"),
			conn("x", "output", "z", "input"),
			conn("y", "output", "z", "input"),
		},
	}
	g := mustBuild(t, def)
	outputs := map[string]map[string]any{}
	g.InitialReady()

	res := complete(g, outputs, "d1", map[string]any{"active_path": "true"})
	if len(res.Skipped) != 1 || res.Skipped[0] != "x" {
		t.Fatalf("after d1: skipped = %v, want [x]", res.Skipped)
	}
	if g.Node("z").Phase != sdk.PhasePending {
		t.Fatalf("z skipped too early")
	}

	res = complete(g, outputs, "d2", map[string]any{"active_path": "true"})
	if got := sorted(res.Skipped); len(got) != 2 || got[0] != "y" || got[1] != "z" {
		t.Fatalf("after d2: skipped = %v, want [y z]", res.Skipped)
	}
}

// Tools edges neither gate readiness nor participate in pruning.
func TestRouteCompletion_ToolsEdgesIgnored(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      []sdk.NodeConfiguration{node("start"), node("tool"), node("agent")},
		Connections: []sdk.Connection{
			conn("start", "output", "agent", "input"),
			conn("tool", "output", "agent", sdk.PortTools),
		},
	}
	g := mustBuild(t, def)
	outputs := map[string]map[string]any{}

	ready := g.InitialReady()
	if len(ready) != 1 || ready[0] != "start" {
		t.Fatalf("initial ready = %v, want [start]", ready)
	}

	res := complete(g, outputs, "start", map[string]any{"output": 1})
	if len(res.NewlyReady) != 1 || res.NewlyReady[0] != "agent" {
		t.Fatalf("newly ready = %v, want [agent]", res.NewlyReady)
	}
	if g.Node("tool").Phase != sdk.PhasePending {
		t.Errorf("tool phase = %s, want PENDING", g.Node("tool").Phase)
	}
}

// Blocking the forward path into a loop prunes the whole dead cycle: the
// back-edge cannot rescue nodes that nothing will ever reach.
func TestRouteCompletion_DeadLoopPruned(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      []sdk.NodeConfiguration{node("r"), node("x"), node("e"), node("m"), node("k")},
		Connections: []sdk.Connection{
			conn("r", "true", "x", "input"),
			conn("r", "false", "e", "input"),
			conn("e", "output", "m", "input"),
			conn("m", "output", "k", "input"),
			conn("k", "output", "e", "input"), // back-edge
		},
	}
	g := mustBuild(t, def)
	outputs := map[string]map[string]any{}
	g.InitialReady()

	res := complete(g, outputs, "r", map[string]any{"active_path": "true"})
	if got := sorted(res.Skipped); len(got) != 3 || got[0] != "e" || got[1] != "k" || got[2] != "m" {
		t.Fatalf("skipped = %v, want [e k m]", res.Skipped)
	}
}
