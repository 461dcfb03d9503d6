package models

import "time"

// ExecutionStatus is the lifecycle state of a funnel run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"

	// ExecutionStatusPaused exists in storage but is never entered by the
	// engine; no operation defines its semantics yet.
	ExecutionStatusPaused ExecutionStatus = "paused"
)

// Active reports whether the status holds the per-(funnel, contact) slot that
// the duplicate-start guard protects.
func (s ExecutionStatus) Active() bool {
	return s == ExecutionStatusRunning || s == ExecutionStatusWaiting
}

func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// Execution is one run of a funnel against one contact. Created by the start
// entry point, mutated by the dispatcher and the scheduler, never deleted.
type Execution struct {
	ID            string          `json:"id"`
	FunnelID      string          `json:"funnel_id"       validate:"required"`
	ContactID     string          `json:"contact_id"      validate:"required"`
	CurrentNodeID string          `json:"current_node_id"`
	Status        ExecutionStatus `json:"status"`
	Context       map[string]any  `json:"context"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	LastActionAt  *time.Time      `json:"last_action_at,omitempty"`
}

// ActionLogStatus is the state of one node-processing attempt.
type ActionLogStatus string

const (
	ActionLogStatusPending ActionLogStatus = "pending"
	ActionLogStatusSuccess ActionLogStatus = "success"
	ActionLogStatusFailed  ActionLogStatus = "failed"
	ActionLogStatusSkipped ActionLogStatus = "skipped"
)

// ActionLog is the append-only audit trail of node processing. One row is
// created as pending before each attempt and finalized afterwards.
type ActionLog struct {
	ID           string          `json:"id"`
	ExecutionID  string          `json:"execution_id" validate:"required"`
	NodeID       string          `json:"node_id"      validate:"required"`
	NodeType     NodeType        `json:"node_type"`
	Status       ActionLogStatus `json:"status"`
	Input        map[string]any  `json:"input,omitempty"`
	Output       map[string]any  `json:"output,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	CreatedAt    time.Time       `json:"created_at"`
}
