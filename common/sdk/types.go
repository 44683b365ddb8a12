package sdk

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Port types are advisory labels on node ports. The engine does not enforce
// type matching between connected ports; "signal" marks a port that carries
// no data payload.
const (
	PortTypeUniversal = "universal"
	PortTypeText      = "text"
	PortTypeSignal    = "signal"
	PortTypeDocument  = "document"
	PortTypeImage     = "image"
	PortTypeAudio     = "audio"
	PortTypeVideo     = "video"
)

// Node categories
const (
	CategoryTriggers      = "triggers"
	CategoryProcessing    = "processing"
	CategoryAI            = "ai"
	CategoryActions       = "actions"
	CategoryControl       = "control"
	CategoryCommunication = "communication"
	CategoryExport        = "export"
	CategoryData          = "data"
	CategoryDefault       = "default"
)

// PortTools is the reserved target-port name that receives the source node's
// configuration instead of its output. Nodes wired exclusively into tools
// ports are never auto-scheduled; an agent invokes them through the node
// runner callback. A typed consumes-node-handle port would be a stronger
// model; the name sentinel matches the definition format.
const PortTools = "tools"

// Port describes one named input or output of a node type.
type Port struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Position is a canvas layout hint. Not used by the engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeConfiguration is one node entry in a workflow definition.
type NodeConfiguration struct {
	NodeID   string         `json:"node_id"`
	NodeType string         `json:"node_type"`
	Name     string         `json:"name"`
	Category string         `json:"category"`
	Config   map[string]any `json:"config,omitempty"`

	// When true, the node's outputs are published into the workflow
	// variables under the "_nodes" namespace after completion.
	ShareOutputToVariables bool   `json:"share_output_to_variables,omitempty"`
	VariableName           string `json:"variable_name,omitempty"`

	// Layout hints, ignored by the engine.
	Position *Position `json:"position,omitempty"`
	Flipped  bool      `json:"flipped,omitempty"`
}

// IsTrigger reports whether the node belongs to the triggers category.
func (n *NodeConfiguration) IsTrigger() bool {
	return n.Category == CategoryTriggers
}

// Connection is a directed edge from a source node's output port to a target
// node's input port. Metadata may carry "branch": "true"|"false" for edges
// leaving a decision node.
type Connection struct {
	ConnectionID string         `json:"connection_id"`
	SourceNodeID string         `json:"source_node_id"`
	SourcePort   string         `json:"source_port"`
	TargetNodeID string         `json:"target_node_id"`
	TargetPort   string         `json:"target_port"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// BranchLabel returns the branch tag of the connection: the metadata "branch"
// value when present, else a label derived from the source port name
// ("true"/"false" substring, lowercased), else "true".
func (c *Connection) BranchLabel() string {
	if c.Metadata != nil {
		if b, ok := c.Metadata["branch"].(string); ok && b != "" {
			return b
		}
	}
	return branchLabelFromPort(c.SourcePort)
}

func branchLabelFromPort(port string) string {
	lower := strings.ToLower(port)
	switch {
	case strings.Contains(lower, "true"):
		return "true"
	case strings.Contains(lower, "false"):
		return "false"
	default:
		return "true"
	}
}

// WorkflowDefinition is the immutable input to an execution. Definitions
// outlive executions; every execution snapshots the definition it ran.
type WorkflowDefinition struct {
	WorkflowID           string              `json:"workflow_id"`
	Name                 string              `json:"name"`
	Nodes                []NodeConfiguration `json:"nodes"`
	Connections          []Connection        `json:"connections"`
	Variables            map[string]any      `json:"variables,omitempty"`
	ExecutionConstraints map[string]any      `json:"execution_constraints,omitempty"`
}

// ParseDefinition decodes a workflow definition from its wire form. Unknown
// keys (canvas_objects and other editor state) are dropped.
func ParseDefinition(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}
	return &def, nil
}

// Node returns the configuration for nodeID, or nil.
func (d *WorkflowDefinition) Node(nodeID string) *NodeConfiguration {
	for i := range d.Nodes {
		if d.Nodes[i].NodeID == nodeID {
			return &d.Nodes[i]
		}
	}
	return nil
}

// HasTriggers reports whether the workflow is persistent, i.e. contains at
// least one trigger-category node.
func (d *WorkflowDefinition) HasTriggers() bool {
	for i := range d.Nodes {
		if d.Nodes[i].IsTrigger() {
			return true
		}
	}
	return false
}

// TriggerNodes returns the trigger-category nodes in definition order.
func (d *WorkflowDefinition) TriggerNodes() []NodeConfiguration {
	var out []NodeConfiguration
	for _, n := range d.Nodes {
		if n.IsTrigger() {
			out = append(out, n)
		}
	}
	return out
}

// IncomingConnections returns the connections targeting nodeID in definition
// order. Definition order is what makes fan-in coalescing deterministic.
func (d *WorkflowDefinition) IncomingConnections(nodeID string) []Connection {
	var out []Connection
	for _, c := range d.Connections {
		if c.TargetNodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// OutgoingConnections returns the connections leaving nodeID in definition order.
func (d *WorkflowDefinition) OutgoingConnections(nodeID string) []Connection {
	var out []Connection
	for _, c := range d.Connections {
		if c.SourceNodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}
