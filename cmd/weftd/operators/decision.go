package operators

import (
	"github.com/weftworks/weft/cmd/weftd/graph"
	"github.com/weftworks/weft/common/sdk"
)

// RouteResult is the consequence of one node completion: nodes promoted to
// READY and nodes pruned off blocked branches. Skipped nodes are already
// marked in the graph when this is returned.
type RouteResult struct {
	NewlyReady []string
	Skipped    []string
}

// IsDecision reports whether a node's outputs carry branch routing data. A
// node is a decision node when it emits active_path, or blocked_outputs
// together with decision_result.
func IsDecision(outputs map[string]any) bool {
	if outputs == nil {
		return false
	}
	if _, ok := outputs["active_path"]; ok {
		return true
	}
	_, hasBlocked := outputs["blocked_outputs"]
	_, hasResult := outputs["decision_result"]
	return hasBlocked && hasResult
}

// RouteCompletion applies the downstream consequences of nodeID completing:
// prunes branches its outputs block, then resolves dependency counters for
// the surviving dependents. nodeOutputs must already contain the completed
// node's outputs.
//
// Pruning runs before dependency resolution so a node never becomes READY in
// the same pass that skips it.
func RouteCompletion(g *graph.Graph, nodeID string, nodeOutputs map[string]map[string]any) RouteResult {
	var res RouteResult
	outgoing := g.Definition().OutgoingConnections(nodeID)
	outputs := nodeOutputs[nodeID]

	if IsDecision(outputs) {
		for i := range outgoing {
			conn := &outgoing[i]
			if conn.TargetPort == sdk.PortTools {
				continue
			}
			if !edgeBlocked(conn, outputs) {
				continue
			}
			skipped, ready := pruneBranch(g, conn.TargetNodeID, nodeOutputs)
			res.Skipped = append(res.Skipped, skipped...)
			res.NewlyReady = append(res.NewlyReady, ready...)
		}
	}

	// The decision itself completed, so even a blocked edge into a surviving
	// node counts as a satisfied dependency. Back-edges stay out of the
	// counters entirely; iteration restarts go through ResetLoop.
	for i := range outgoing {
		conn := &outgoing[i]
		if conn.TargetPort == sdk.PortTools {
			continue
		}
		if g.IsLoopBackEdge(nodeID, conn.TargetNodeID) {
			continue
		}
		target := g.Node(conn.TargetNodeID)
		if target == nil || target.Phase == sdk.PhaseSkipped {
			continue
		}
		if g.DecrementDeps(conn.TargetNodeID) {
			res.NewlyReady = append(res.NewlyReady, conn.TargetNodeID)
		}
	}

	return res
}

// edgeBlocked reports whether a decision's outputs block the connection: the
// branch label appears in blocked_outputs, or active_path names a different
// label.
func edgeBlocked(conn *sdk.Connection, outputs map[string]any) bool {
	label := conn.BranchLabel()
	for _, blocked := range blockedLabels(outputs) {
		if blocked == label {
			return true
		}
	}
	if active, ok := outputs["active_path"].(string); ok && active != "" {
		return label != active
	}
	return false
}

func blockedLabels(outputs map[string]any) []string {
	raw, ok := outputs["blocked_outputs"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		labels := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				labels = append(labels, s)
			}
		}
		return labels
	}
	return nil
}

// pruneBranch skips every pending node reachable from startID exclusively
// through blocked or skipped paths, then resolves the skipped nodes'
// dependents as if they had completed. A node with any live incoming edge is
// rescued and stops the traversal.
func pruneBranch(g *graph.Graph, startID string, nodeOutputs map[string]map[string]any) (skipped, newlyReady []string) {
	inSet := make(map[string]bool)
	queue := []string{startID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if inSet[id] {
			continue
		}
		n := g.Node(id)
		if n == nil || n.Phase != sdk.PhasePending {
			continue
		}
		if !onlyBlockedIncoming(g, n, inSet, nodeOutputs) {
			continue
		}
		inSet[id] = true
		skipped = append(skipped, id)
		// Dependents get re-checked every time the set grows, so diamond
		// shapes converge regardless of queue order.
		queue = append(queue, n.Dependents...)
	}

	for _, id := range skipped {
		g.MarkSkipped(id)
	}

	for _, id := range skipped {
		for _, conn := range g.Definition().OutgoingConnections(id) {
			if conn.TargetPort == sdk.PortTools {
				continue
			}
			target := g.Node(conn.TargetNodeID)
			if target == nil || inSet[conn.TargetNodeID] {
				continue
			}
			target.DepResolvedBySkip = true
			if g.DecrementDeps(conn.TargetNodeID) {
				newlyReady = append(newlyReady, conn.TargetNodeID)
			}
		}
	}

	return skipped, newlyReady
}

// onlyBlockedIncoming reports whether every gating incoming edge of n comes
// from a skipped node, a node already in the tentative skip set, or a
// completed decision that blocked that specific edge. Tools edges never gate
// and back-edges cannot rescue a dead forward path.
func onlyBlockedIncoming(g *graph.Graph, n *graph.NodeState, inSet map[string]bool, nodeOutputs map[string]map[string]any) bool {
	for _, conn := range g.Definition().IncomingConnections(n.ID) {
		if conn.TargetPort == sdk.PortTools {
			continue
		}
		if g.IsLoopBackEdge(conn.SourceNodeID, n.ID) {
			continue
		}
		src := g.Node(conn.SourceNodeID)
		if src == nil {
			continue
		}
		if src.Phase == sdk.PhaseSkipped || inSet[src.ID] {
			continue
		}
		if src.Phase == sdk.PhaseCompleted {
			outs := nodeOutputs[src.ID]
			if IsDecision(outs) && edgeBlocked(&conn, outs) {
				continue
			}
		}
		return false
	}
	return true
}
