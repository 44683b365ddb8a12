package scheduler

import (
	"github.com/weftworks/weft/cmd/weftd/graph"
	"github.com/weftworks/weft/common/sdk"
)

// AssembleInputs builds a node's port map from its incoming connections, in
// definition order. Edges into the tools port contribute the source node's
// descriptor instead of its outputs, so an agent can enumerate its tools
// before any of them ran. Sources that produced no outputs (skipped, pruned,
// or the port simply absent) contribute nothing.
//
// When the execution carries trigger data it lands on the "input" port if
// nothing else claimed it, otherwise under "_trigger_data".
func AssembleInputs(g *graph.Graph, ec *sdk.ExecutionContext, nodeID string) map[string]any {
	n := g.Node(nodeID)
	inputs := make(map[string]any)
	if n == nil {
		return inputs
	}

	for _, in := range n.InputConnections {
		if in.TargetPort == sdk.PortTools {
			if desc := toolDescriptor(g, in.SourceNodeID); desc != nil {
				list, _ := inputs[sdk.PortTools].([]any)
				inputs[sdk.PortTools] = append(list, desc)
			}
			continue
		}
		outs, ok := ec.NodeOutputs[in.SourceNodeID]
		if !ok {
			continue
		}
		v, ok := outs[in.SourcePort]
		if !ok {
			continue
		}
		assignInput(inputs, in.TargetPort, v)
	}

	if td := ec.TriggerData(); td != nil {
		if isEmptyValue(inputs["input"]) {
			inputs["input"] = td
		} else {
			inputs["_trigger_data"] = td
		}
	}
	return inputs
}

// assignInput places v on a port, coalescing fan-in: the second writer turns
// the slot into a list, later writers append, and list values extend instead
// of nesting.
func assignInput(inputs map[string]any, port string, v any) {
	existing, ok := inputs[port]
	if !ok {
		inputs[port] = v
		return
	}
	list, isList := existing.([]any)
	if !isList {
		list = []any{existing}
	}
	if vs, ok := v.([]any); ok {
		inputs[port] = append(list, vs...)
		return
	}
	inputs[port] = append(list, v)
}

// toolDescriptor is the shape an agent receives per wired tool: enough to
// advertise the tool to a model and to invoke it through the runner callback.
func toolDescriptor(g *graph.Graph, nodeID string) map[string]any {
	n := g.Node(nodeID)
	if n == nil {
		return nil
	}
	return map[string]any{
		"node_id":   n.ID,
		"node_type": n.Config.NodeType,
		"name":      n.Config.Name,
		"config":    n.Config.Config,
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
