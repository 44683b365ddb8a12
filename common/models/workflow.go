package models

import (
	"encoding/json"
	"time"
)

// Workflow is a stored workflow definition.
// Maps to: workflow table
type Workflow struct {
	// Unique workflow ID (UUID)
	WorkflowID string `db:"workflow_id" json:"workflow_id"`

	// Display name shown in listings
	Name string `db:"name" json:"name"`

	// Definition is the canvas document as authored: nodes, connections,
	// variables, execution_constraints. Stored as JSONB and parsed on demand;
	// the workflow_id column is authoritative over any id inside the JSON.
	Definition json.RawMessage `db:"definition" json:"definition"`

	// Active controls trigger registration. Inactive workflows can still be
	// executed manually.
	Active bool `db:"active" json:"active"`

	// Audit fields
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
