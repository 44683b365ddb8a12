package operators

import (
	"time"

	"github.com/weftworks/weft/cmd/weftd/graph"
	"github.com/weftworks/weft/common/sdk"
)

// ShouldContinue decides whether the graph runs another loop iteration. The
// loop exits when branch pruning resolved any loop entry's dependency (the
// back-path was blocked), or when the freshest continue_loop signal is
// absent or falsy.
func ShouldContinue(g *graph.Graph, ec *sdk.ExecutionContext) bool {
	for _, entry := range g.LoopEntryNodes() {
		if entry.DepResolvedBySkip {
			return false
		}
	}
	cont, found := lastLoopSignal(g, ec)
	return found && cont
}

// lastLoopSignal finds the most recently completed result carrying a
// continue_loop output. Ties fall back to definition order.
func lastLoopSignal(g *graph.Graph, ec *sdk.ExecutionContext) (value, found bool) {
	var latest time.Time
	for _, id := range g.Order {
		res := ec.NodeResults[id]
		if res == nil || res.CompletedAt == nil || res.Outputs == nil {
			continue
		}
		raw, ok := res.Outputs["continue_loop"]
		if !ok {
			continue
		}
		if !found || res.CompletedAt.After(latest) {
			latest = *res.CompletedAt
			value = truthy(raw)
			found = true
		}
	}
	return value, found
}

// truthy booleanizes a loop-control signal.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != "" && x != "false" && x != "False" && x != "0"
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

// ResetLoop prepares the loop subset for its next iteration: outputs and
// results are cleared (loop-control nodes keep theirs), phases return to
// PENDING, and dependency counters are recomputed from inside the subset
// only, because outside predecessors already fired and will not fire again.
// Loop entries come back with zero remaining deps and are returned READY.
func ResetLoop(g *graph.Graph, ec *sdk.ExecutionContext) []string {
	closers := make(map[string]bool, len(g.LoopBackEdges))
	entries := make(map[string]bool, len(g.LoopBackEdges))
	for _, e := range g.LoopBackEdges {
		closers[e.Source] = true
		entries[e.Target] = true
	}

	// The subset is every descendant of a loop entry up to and including the
	// closing decision. Paths past the closer belong to the exit branch and
	// keep their state.
	subset := make(map[string]bool)
	var queue []string
	for _, id := range g.Order {
		if entries[id] {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if subset[id] {
			continue
		}
		subset[id] = true
		if closers[id] {
			continue
		}
		queue = append(queue, g.Node(id).Dependents...)
	}

	for _, id := range g.Order {
		if !subset[id] {
			continue
		}
		n := g.Node(id)
		if !isLoopControl(ec.NodeOutputs[id]) {
			delete(ec.NodeOutputs, id)
			delete(ec.NodeResults, id)
		}
		n.Phase = sdk.PhasePending
		n.DepResolvedBySkip = false
		delete(g.CompletedNodes, id)
		delete(g.FailedNodes, id)
		delete(g.SkippedNodes, id)
	}

	for _, id := range g.Order {
		if !subset[id] {
			continue
		}
		n := g.Node(id)
		if entries[id] {
			// Subsequent iterations depend only on the back-edge, which the
			// closing decision just satisfied.
			n.RemainingDeps = 0
			continue
		}
		deps := 0
		for _, in := range n.InputConnections {
			if in.TargetPort == sdk.PortTools {
				continue
			}
			if n.LoopBackFrom[in.SourceNodeID] {
				continue
			}
			if subset[in.SourceNodeID] {
				deps++
			}
		}
		n.RemainingDeps = deps
	}

	var ready []string
	for _, id := range g.Order {
		if entries[id] && !g.ToolsOnlyNodes[id] {
			g.Node(id).Phase = sdk.PhaseReady
			ready = append(ready, id)
		}
	}
	return ready
}

// isLoopControl reports whether outputs mark a loop-control node. Those keep
// their outputs across resets so the continuation test stays observable.
func isLoopControl(outputs map[string]any) bool {
	if outputs == nil {
		return false
	}
	_, ok := outputs["continue_loop"]
	return ok
}
