package graph

import (
	"strings"
	"testing"

	"github.com/weftworks/weft/common/sdk"
)

func node(id string) sdk.NodeConfiguration {
	return sdk.NodeConfiguration{NodeID: id, NodeType: "test_node", Name: id}
}

func conn(src, srcPort, dst, dstPort string) sdk.Connection {
	return sdk.Connection{
		ConnectionID: src + "->" + dst,
		SourceNodeID: src,
		SourcePort:   srcPort,
		TargetNodeID: dst,
		TargetPort:   dstPort,
	}
}

func TestBuild_LinearChain(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      []sdk.NodeConfiguration{node("a"), node("b"), node("c")},
		Connections: []sdk.Connection{
			conn("a", "output", "b", "input"),
			conn("b", "output", "c", "input"),
		},
	}
	g, err := Build(def)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for id, want := range map[string]int{"a": 0, "b": 1, "c": 1} {
		if got := g.Node(id).RemainingDeps; got != want {
			t.Errorf("%s deps = %d, want %d", id, got, want)
		}
	}
	if deps := g.Node("a").Dependents; len(deps) != 1 || deps[0] != "b" {
		t.Errorf("a dependents = %v, want [b]", deps)
	}
	if g.HasLoops {
		t.Error("HasLoops = true for an acyclic graph")
	}

	ready := g.InitialReady()
	if len(ready) != 1 || ready[0] != "a" {
		t.Fatalf("InitialReady = %v, want [a]", ready)
	}
	if g.Node("a").Phase != sdk.PhaseReady {
		t.Errorf("a phase = %s, want READY", g.Node("a").Phase)
	}
	if g.Node("b").Phase != sdk.PhasePending {
		t.Errorf("b phase = %s, want PENDING", g.Node("b").Phase)
	}
}

func TestBuild_InputConnectionOrder(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      []sdk.NodeConfiguration{node("a"), node("b"), node("merge")},
		Connections: []sdk.Connection{
			conn("b", "output", "merge", "right"),
			conn("a", "output", "merge", "left"),
		},
	}
	g, err := Build(def)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ins := g.Node("merge").InputConnections
	if len(ins) != 2 {
		t.Fatalf("merge has %d input connections, want 2", len(ins))
	}
	// Definition order, not topological order.
	if ins[0].SourceNodeID != "b" || ins[0].TargetPort != "right" {
		t.Errorf("first input = %+v, want from b into right", ins[0])
	}
	if ins[1].SourceNodeID != "a" || ins[1].TargetPort != "left" {
		t.Errorf("second input = %+v, want from a into left", ins[1])
	}
}

func TestBuild_ToolsPortDoesNotGate(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      []sdk.NodeConfiguration{node("start"), node("tool"), node("agent")},
		Connections: []sdk.Connection{
			conn("start", "output", "agent", "input"),
			conn("tool", "output", "agent", sdk.PortTools),
		},
	}
	g, err := Build(def)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := g.Node("agent").RemainingDeps; got != 1 {
		t.Errorf("agent deps = %d, want 1 (tools edge must not count)", got)
	}
	if !g.ToolsOnlyNodes["tool"] {
		t.Error("tool not classified tools-only")
	}
	if g.ToolsOnlyNodes["start"] {
		t.Error("start classified tools-only")
	}

	ready := g.InitialReady()
	if len(ready) != 1 || ready[0] != "start" {
		t.Fatalf("InitialReady = %v, want [start]: tools-only roots stay unscheduled", ready)
	}
}

func TestBuild_BackEdge(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      []sdk.NodeConfiguration{node("start"), node("entry"), node("body"), node("closer")},
		Connections: []sdk.Connection{
			conn("start", "output", "entry", "input"),
			conn("entry", "output", "body", "input"),
			conn("body", "output", "closer", "input"),
			conn("closer", "output", "entry", "input"),
		},
	}
	g, err := Build(def)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !g.HasLoops {
		t.Fatal("HasLoops = false")
	}
	if len(g.LoopBackEdges) != 1 || g.LoopBackEdges[0] != (Edge{Source: "closer", Target: "entry"}) {
		t.Fatalf("LoopBackEdges = %v, want [closer->entry]", g.LoopBackEdges)
	}
	if !g.IsLoopBackEdge("closer", "entry") {
		t.Error("IsLoopBackEdge(closer, entry) = false")
	}
	if g.IsLoopBackEdge("entry", "body") {
		t.Error("IsLoopBackEdge(entry, body) = true")
	}

	// The first iteration must not wait for the closing node.
	if got := g.Node("entry").RemainingDeps; got != 1 {
		t.Errorf("entry deps = %d, want 1", got)
	}
	if !g.Node("entry").IsLoopEntry() {
		t.Error("entry not marked as loop entry")
	}
	entries := g.LoopEntryNodes()
	if len(entries) != 1 || entries[0].ID != "entry" {
		t.Errorf("LoopEntryNodes = %v, want [entry]", entries)
	}
}

func TestBuild_Errors(t *testing.T) {
	dup := &sdk.WorkflowDefinition{
		Nodes: []sdk.NodeConfiguration{node("a"), node("a")},
	}
	if _, err := Build(dup); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("duplicate node id: err = %v", err)
	}

	missing := &sdk.WorkflowDefinition{
		Nodes:       []sdk.NodeConfiguration{node("a")},
		Connections: []sdk.Connection{conn("a", "output", "ghost", "input")},
	}
	if _, err := Build(missing); err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Errorf("missing target: err = %v", err)
	}

	anon := &sdk.WorkflowDefinition{
		Nodes: []sdk.NodeConfiguration{{NodeType: "test_node"}},
	}
	if _, err := Build(anon); err == nil {
		t.Error("node without id accepted")
	}
}

func TestDecrementDeps(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      []sdk.NodeConfiguration{node("a"), node("b"), node("join")},
		Connections: []sdk.Connection{
			conn("a", "output", "join", "input"),
			conn("b", "output", "join", "input"),
		},
	}
	g, err := Build(def)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	g.InitialReady()

	if g.DecrementDeps("join") {
		t.Error("join became ready after one of two deps")
	}
	if !g.DecrementDeps("join") {
		t.Error("join not ready after both deps")
	}
	if g.Node("join").Phase != sdk.PhaseReady {
		t.Errorf("join phase = %s, want READY", g.Node("join").Phase)
	}

	// Extra decrements on a drained counter are inert.
	if g.Node("join").RemainingDeps != 0 {
		t.Fatalf("join deps = %d, want 0", g.Node("join").RemainingDeps)
	}
	g.DecrementDeps("join")
	if g.Node("join").RemainingDeps != 0 {
		t.Error("counter went negative")
	}
	if g.DecrementDeps("unknown") {
		t.Error("unknown node reported ready")
	}
}

func TestStopNonTerminal(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      []sdk.NodeConfiguration{node("done"), node("running"), node("queued"), node("tool"), node("agent")},
		Connections: []sdk.Connection{
			conn("done", "output", "running", "input"),
			conn("running", "output", "queued", "input"),
			conn("tool", "output", "agent", sdk.PortTools),
		},
	}
	g, err := Build(def)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	g.MarkCompleted("done")
	g.Node("running").Phase = sdk.PhaseExecuting

	stopped := g.StopNonTerminal()
	want := map[string]bool{"running": true, "queued": true, "agent": true}
	if len(stopped) != len(want) {
		t.Fatalf("stopped = %v, want %v", stopped, want)
	}
	for _, id := range stopped {
		if !want[id] {
			t.Errorf("unexpected stop of %s", id)
		}
	}
	if g.Node("done").Phase != sdk.PhaseCompleted {
		t.Error("completed node was restomped")
	}
	if g.Node("tool").Phase != sdk.PhasePending {
		t.Errorf("tool phase = %s, want PENDING (never scheduled, never stopped)", g.Node("tool").Phase)
	}
}

func TestProgress(t *testing.T) {
	def := &sdk.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes: []sdk.NodeConfiguration{
			node("a"), node("b"), node("c"), node("d"), node("tool"), node("agent"),
		},
		Connections: []sdk.Connection{
			conn("a", "output", "b", "input"),
			conn("a", "output", "c", "input"),
			conn("c", "output", "d", "input"),
			conn("tool", "output", "agent", sdk.PortTools),
		},
	}
	g, err := Build(def)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	g.MarkCompleted("a")
	g.MarkCompleted("b")
	g.MarkSkipped("c")
	g.MarkSkipped("d")
	g.Node("agent").Phase = sdk.PhaseExecuting

	p := g.Progress()
	if p.TotalNodes != 5 {
		t.Errorf("TotalNodes = %d, want 5 (tools-only excluded)", p.TotalNodes)
	}
	if p.EffectiveTotal != 3 {
		t.Errorf("EffectiveTotal = %d, want 3", p.EffectiveTotal)
	}
	if p.Completed != 2 || p.Skipped != 2 || p.Executing != 1 {
		t.Errorf("counts = %+v", p)
	}
	wantPct := float64(2) / 3 * 100
	if p.ProgressPercent != wantPct {
		t.Errorf("ProgressPercent = %v, want %v", p.ProgressPercent, wantPct)
	}
}
