package model

import "time"

// ExecutionStatus represents the lifecycle state of an escalation execution
type ExecutionStatus string

const (
	ExecutionActive    ExecutionStatus = "active"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// LevelOutcome is the recorded result of one traversed level
type LevelOutcome string

const (
	LevelResolved  LevelOutcome = "resolved"
	LevelEscalated LevelOutcome = "escalated"
	LevelTimeout   LevelOutcome = "timeout"
	LevelFailed    LevelOutcome = "failed"
	LevelSkipped   LevelOutcome = "skipped"
)

// LevelRecord captures one level traversal inside an execution
type LevelRecord struct {
	Level       int          `json:"level"`
	Assignee    string       `json:"assignee,omitempty"`
	AssignedAt  time.Time    `json:"assigned_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Outcome     LevelOutcome `json:"outcome,omitempty"`
}

// ExecutionMetadata snapshots the triggering context of an execution
type ExecutionMetadata struct {
	TriggerReason    string        `json:"trigger_reason,omitempty"`
	OriginalAssignee string        `json:"original_assignee,omitempty"`
	Priority         string        `json:"priority,omitempty"`
	Severity         AlertSeverity `json:"severity,omitempty"`
	DeviceID         string        `json:"device_id,omitempty"`
	DispatchFailures int           `json:"dispatch_failures,omitempty"`
}

// EscalationTrigger is the context an escalation run starts from
type EscalationTrigger struct {
	TicketID string
	AlertID  string
	DeviceID string
	Severity AlertSeverity
	Priority string
	Reason   string
}

// EscalationExecution is one active or finished run of an escalation chain
type EscalationExecution struct {
	ID           string            `json:"id"`
	ChainID      string            `json:"chain_id"`
	TicketID     string            `json:"ticket_id,omitempty"`
	AlertID      string            `json:"alert_id,omitempty"`
	CurrentLevel int               `json:"current_level"`
	LevelHistory []LevelRecord     `json:"level_history"`
	Status       ExecutionStatus   `json:"status"`
	Metadata     ExecutionMetadata `json:"metadata"`

	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
}

// CurrentRecord returns the in-flight level record, or nil once terminal
// or before the first level is assigned.
func (e *EscalationExecution) CurrentRecord() *LevelRecord {
	for i := len(e.LevelHistory) - 1; i >= 0; i-- {
		if e.LevelHistory[i].Level == e.CurrentLevel && e.LevelHistory[i].Outcome == "" {
			return &e.LevelHistory[i]
		}
	}
	return nil
}
