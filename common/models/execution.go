package models

import (
	"encoding/json"
	"time"

	"github.com/weftworks/weft/common/sdk"
)

// Execution is the persisted record of one workflow execution. The engine
// writes it through the record sink; the API reads it for executions that
// are no longer resident in memory.
// Maps to: execution table
type Execution struct {
	// Unique execution ID (UUID)
	ExecutionID string `db:"execution_id" json:"execution_id"`

	// Workflow this execution ran
	WorkflowID string `db:"workflow_id" json:"workflow_id"`

	// How the execution was started: "manual", "webhook", "schedule", ...
	ExecutionMode string `db:"execution_mode" json:"execution_mode"`

	Status sdk.ExecutionStatus `db:"status" json:"status"`

	// Who or what started it (user id for manual runs, trigger source otherwise)
	StartedBy string `db:"started_by" json:"started_by,omitempty"`

	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	// Terminal error message, empty unless Status is FAILED
	Error string `db:"error" json:"error,omitempty"`

	// NodeResults is the per-node outcome map (node_id -> result) as JSONB
	NodeResults json.RawMessage `db:"node_results" json:"node_results,omitempty"`
}
