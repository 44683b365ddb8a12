package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFinished is returned by control methods once the execution's Run has
// returned.
var ErrFinished = errors.New("execution already finished")

// ValidationError reports required input ports that were empty when a node
// was about to execute. Validation failures are deterministic, so they are
// never retried.
type ValidationError struct {
	NodeID  string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("node %s is missing required inputs: %s", e.NodeID, strings.Join(e.Missing, ", "))
}

// ConfigError reports a node that cannot be set up at all: unknown type,
// unresolvable configuration, or a failed credential lookup. Config errors
// halt the execution regardless of stop_on_error since every later attempt
// would fail the same way.
type ConfigError struct {
	NodeID string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("node %s configuration: %v", e.NodeID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NodeError wraps a node-reported failure. Soft marks failures signaled
// through outputs (success=false or a non-empty error key) rather than a
// returned error; the reporting outputs are preserved on the node result.
type NodeError struct {
	NodeID  string
	Msg     string
	Soft    bool
	Outputs map[string]any
}

func (e *NodeError) Error() string { return e.Msg }
