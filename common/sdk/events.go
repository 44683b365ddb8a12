package sdk

import (
	"context"
	"time"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventNodeStart           EventType = "node_start"
	EventNodeComplete        EventType = "node_complete"
	EventNodeFailed          EventType = "node_failed"
	EventNodeStopped         EventType = "node_stopped"
	EventInteractionRequired EventType = "interaction_required"
	EventExecutionPaused     EventType = "execution_paused"
	EventExecutionResumed    EventType = "execution_resumed"
	EventExecutionCompleted  EventType = "execution_completed"
	EventExecutionFailed     EventType = "execution_failed"
	EventExecutionStopped    EventType = "execution_stopped"
)

// Progress is the per-event completion snapshot. EffectiveTotal excludes
// skipped nodes and is the denominator for ProgressPercent.
type Progress struct {
	TotalNodes      int     `json:"total_nodes"`
	EffectiveTotal  int     `json:"effective_total"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Skipped         int     `json:"skipped"`
	Executing       int     `json:"executing"`
	Pending         int     `json:"pending"`
	ProgressPercent float64 `json:"progress_percent"`
}

// Event is one serializable lifecycle notification.
type Event struct {
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Timestamp   time.Time      `json:"timestamp"`
	NodeID      string         `json:"node_id,omitempty"`
	NodeType    string         `json:"node_type,omitempty"`
	NodeName    string         `json:"node_name,omitempty"`
	Status      string         `json:"status,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       string         `json:"error,omitempty"`
	Message     string         `json:"message,omitempty"`
	Progress    *Progress      `json:"progress,omitempty"`

	// Interaction fields, set on interaction_required.
	InteractionID   string `json:"interaction_id,omitempty"`
	InteractionType string `json:"interaction_type,omitempty"`
	ReviewURL       string `json:"review_url,omitempty"`
}

// Publisher receives lifecycle events. Publish is fire-and-forget from the
// engine's point of view and must be safe for concurrent calls from multiple
// executions.
type Publisher interface {
	Publish(ctx context.Context, event *Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) {}
