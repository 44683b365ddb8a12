package graph

import (
	"fmt"

	"github.com/weftworks/weft/common/sdk"
)

// InputConnection is one incoming edge of a node, in definition order.
type InputConnection struct {
	SourceNodeID string
	SourcePort   string
	TargetPort   string
}

// Edge identifies a directed node pair. Used for the loop back-edge set.
type Edge struct {
	Source string
	Target string
}

// NodeState is the per-node execution bookkeeping for one run.
type NodeState struct {
	ID     string
	Config *sdk.NodeConfiguration

	Phase            sdk.NodePhase
	RemainingDeps    int
	Dependents       []string
	InputConnections []InputConnection

	// LoopBackFrom marks incoming back-edges by source node id. A node
	// with any entry here is a loop entry point.
	LoopBackFrom map[string]bool

	// DepResolvedBySkip is set when branch pruning satisfied one of this
	// node's dependencies. The loop controller reads it on loop entries to
	// decide whether the back-path was blocked.
	DepResolvedBySkip bool
}

// IsLoopEntry reports whether the node is the target of a back-edge.
func (n *NodeState) IsLoopEntry() bool {
	return len(n.LoopBackFrom) > 0
}

// Graph is the execution graph built from a workflow definition. Built once
// per execution; structure is immutable afterwards, phases and counters are
// mutated only by the scheduler goroutine.
type Graph struct {
	Nodes map[string]*NodeState

	// Order preserves definition order for deterministic iteration.
	Order []string

	LoopBackEdges  []Edge
	ToolsOnlyNodes map[string]bool
	HasLoops       bool

	CompletedNodes map[string]bool
	FailedNodes    map[string]bool
	SkippedNodes   map[string]bool

	def *sdk.WorkflowDefinition
}

// Build materializes the execution graph for a definition.
//
// Dependency counters count incoming edges, except edges into tools ports
// (the target must not wait for a node that only ever runs on demand) and
// back-edges (iteration one must not wait for the closing decision).
func Build(def *sdk.WorkflowDefinition) (*Graph, error) {
	g := &Graph{
		Nodes:          make(map[string]*NodeState, len(def.Nodes)),
		Order:          make([]string, 0, len(def.Nodes)),
		ToolsOnlyNodes: make(map[string]bool),
		CompletedNodes: make(map[string]bool),
		FailedNodes:    make(map[string]bool),
		SkippedNodes:   make(map[string]bool),
		def:            def,
	}

	// 1. Create node states
	for i := range def.Nodes {
		nc := &def.Nodes[i]
		if nc.NodeID == "" {
			return nil, fmt.Errorf("node at index %d has no node_id", i)
		}
		if _, exists := g.Nodes[nc.NodeID]; exists {
			return nil, fmt.Errorf("duplicate node_id: %s", nc.NodeID)
		}
		g.Nodes[nc.NodeID] = &NodeState{
			ID:           nc.NodeID,
			Config:       nc,
			Phase:        sdk.PhasePending,
			LoopBackFrom: make(map[string]bool),
		}
		g.Order = append(g.Order, nc.NodeID)
	}

	// 2. Wire connections
	for _, conn := range def.Connections {
		source, exists := g.Nodes[conn.SourceNodeID]
		if !exists {
			return nil, fmt.Errorf("connection %s references non-existent source node: %s", conn.ConnectionID, conn.SourceNodeID)
		}
		target, exists := g.Nodes[conn.TargetNodeID]
		if !exists {
			return nil, fmt.Errorf("connection %s references non-existent target node: %s", conn.ConnectionID, conn.TargetNodeID)
		}

		target.InputConnections = append(target.InputConnections, InputConnection{
			SourceNodeID: conn.SourceNodeID,
			SourcePort:   conn.SourcePort,
			TargetPort:   conn.TargetPort,
		})
		addDependent(source, conn.TargetNodeID)

		if conn.TargetPort != sdk.PortTools {
			target.RemainingDeps++
		}
	}

	// 3. Detect cycles; back-edges become loop edges instead of errors
	g.detectLoops()

	// 4. Back-edges do not gate the first iteration
	for _, e := range g.LoopBackEdges {
		target := g.Nodes[e.Target]
		target.LoopBackFrom[e.Source] = true
		for _, in := range target.InputConnections {
			if in.SourceNodeID == e.Source && in.TargetPort != sdk.PortTools {
				target.RemainingDeps--
			}
		}
	}

	// 5. Tools-only nodes: every outgoing edge lands on a tools port
	for _, id := range g.Order {
		outgoing := def.OutgoingConnections(id)
		if len(outgoing) == 0 {
			continue
		}
		toolsOnly := true
		for _, conn := range outgoing {
			if conn.TargetPort != sdk.PortTools {
				toolsOnly = false
				break
			}
		}
		if toolsOnly {
			g.ToolsOnlyNodes[id] = true
		}
	}

	g.HasLoops = len(g.LoopBackEdges) > 0

	return g, nil
}

func addDependent(n *NodeState, id string) {
	for _, d := range n.Dependents {
		if d == id {
			return
		}
	}
	n.Dependents = append(n.Dependents, id)
}

// detectLoops runs an iterative DFS over dependent edges and records every
// back-edge. Traversal follows Order so the classification is deterministic.
func (g *Graph) detectLoops() {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.Nodes))
	seen := make(map[Edge]bool)

	var visit func(id string)
	visit = func(id string) {
		state[id] = inStack
		for _, dep := range g.Nodes[id].Dependents {
			switch state[dep] {
			case unvisited:
				visit(dep)
			case inStack:
				e := Edge{Source: id, Target: dep}
				if !seen[e] {
					seen[e] = true
					g.LoopBackEdges = append(g.LoopBackEdges, e)
				}
			}
		}
		state[id] = done
	}

	for _, id := range g.Order {
		if state[id] == unvisited {
			visit(id)
		}
	}
}

// Node returns the state for id, or nil.
func (g *Graph) Node(id string) *NodeState {
	return g.Nodes[id]
}

// Definition returns the workflow definition the graph was built from.
func (g *Graph) Definition() *sdk.WorkflowDefinition {
	return g.def
}

// IsLoopBackEdge reports whether source -> target was classified as a cycle
// back-edge during build.
func (g *Graph) IsLoopBackEdge(source, target string) bool {
	return g.Nodes[target] != nil && g.Nodes[target].LoopBackFrom[source]
}

// InitialReady transitions every schedulable root to READY and returns the
// ids in definition order. Tools-only nodes never become ready.
func (g *Graph) InitialReady() []string {
	var ready []string
	for _, id := range g.Order {
		n := g.Nodes[id]
		if n.Phase == sdk.PhasePending && n.RemainingDeps == 0 && !g.ToolsOnlyNodes[id] {
			n.Phase = sdk.PhaseReady
			ready = append(ready, id)
		}
	}
	return ready
}

// DecrementDeps lowers a node's dependency counter and, when it hits zero on
// a schedulable pending node, promotes it to READY. Returns true when the
// node became ready.
func (g *Graph) DecrementDeps(id string) bool {
	n := g.Nodes[id]
	if n == nil {
		return false
	}
	if n.RemainingDeps > 0 {
		n.RemainingDeps--
	}
	if n.RemainingDeps == 0 && n.Phase == sdk.PhasePending && !g.ToolsOnlyNodes[id] {
		n.Phase = sdk.PhaseReady
		return true
	}
	return false
}

// MarkCompleted records a node's terminal success phase.
func (g *Graph) MarkCompleted(id string) {
	g.Nodes[id].Phase = sdk.PhaseCompleted
	g.CompletedNodes[id] = true
	delete(g.FailedNodes, id)
	delete(g.SkippedNodes, id)
}

// MarkFailed records a node's terminal failure phase.
func (g *Graph) MarkFailed(id string) {
	g.Nodes[id].Phase = sdk.PhaseFailed
	g.FailedNodes[id] = true
	delete(g.CompletedNodes, id)
	delete(g.SkippedNodes, id)
}

// MarkSkipped records a pruned node.
func (g *Graph) MarkSkipped(id string) {
	g.Nodes[id].Phase = sdk.PhaseSkipped
	g.SkippedNodes[id] = true
	delete(g.CompletedNodes, id)
	delete(g.FailedNodes, id)
}

// StopNonTerminal marks every node that has not reached a terminal phase as
// STOPPED and returns the affected ids in definition order. Tools-only nodes
// are left alone; they were never scheduled to begin with.
func (g *Graph) StopNonTerminal() []string {
	var stopped []string
	for _, id := range g.Order {
		n := g.Nodes[id]
		if !n.Phase.IsTerminal() && !g.ToolsOnlyNodes[id] {
			n.Phase = sdk.PhaseStopped
			stopped = append(stopped, id)
		}
	}
	return stopped
}

// LoopEntryNodes returns the loop entry points in definition order.
func (g *Graph) LoopEntryNodes() []*NodeState {
	var entries []*NodeState
	for _, id := range g.Order {
		if g.Nodes[id].IsLoopEntry() {
			entries = append(entries, g.Nodes[id])
		}
	}
	return entries
}

// Progress summarizes phase counts. Tools-only nodes are excluded from the
// totals: they only run inside an agent's call and never gate completion.
// EffectiveTotal additionally excludes skipped nodes and is the percent base.
func (g *Graph) Progress() *sdk.Progress {
	p := &sdk.Progress{}
	for _, id := range g.Order {
		if g.ToolsOnlyNodes[id] {
			continue
		}
		p.TotalNodes++
		switch g.Nodes[id].Phase {
		case sdk.PhaseCompleted:
			p.Completed++
		case sdk.PhaseFailed:
			p.Failed++
		case sdk.PhaseSkipped:
			p.Skipped++
		case sdk.PhaseExecuting, sdk.PhaseAwaitingInteraction:
			p.Executing++
		default:
			p.Pending++
		}
	}

	p.EffectiveTotal = p.TotalNodes - p.Skipped
	if p.EffectiveTotal > 0 {
		p.ProgressPercent = float64(p.Completed+p.Failed) / float64(p.EffectiveTotal) * 100
		if p.ProgressPercent > 100 {
			p.ProgressPercent = 100
		}
	} else {
		p.ProgressPercent = 100
	}
	return p
}
