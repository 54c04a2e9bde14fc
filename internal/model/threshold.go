package model

import (
	"encoding/json"
	"time"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// ThresholdType represents the kind of threshold
type ThresholdType string

const (
	ThresholdTypeCountBased  ThresholdType = "count_based"
	ThresholdTypeTimeBased   ThresholdType = "time_based"
	ThresholdTypeRateBased   ThresholdType = "rate_based"
	ThresholdTypeComposite   ThresholdType = "composite"
	ThresholdTypeCPUUsage    ThresholdType = "cpu_usage"
	ThresholdTypeMemoryUsage ThresholdType = "memory_usage"
	ThresholdTypeDiskUsage   ThresholdType = "disk_usage"
)

// ThresholdOperator is the numeric comparator applied to a sample value
type ThresholdOperator string

const (
	OperatorGreaterThan    ThresholdOperator = "greater_than"
	OperatorLessThan       ThresholdOperator = "less_than"
	OperatorEquals         ThresholdOperator = "equals"
	OperatorNotEquals      ThresholdOperator = "not_equals"
	OperatorGreaterOrEqual ThresholdOperator = "greater_or_equal"
	OperatorLessOrEqual    ThresholdOperator = "less_or_equal"
)

// ConditionOperator is the comparator used inside a condition tree
type ConditionOperator string

const (
	ConditionEquals      ConditionOperator = "equals"
	ConditionContains    ConditionOperator = "contains"
	ConditionGreaterThan ConditionOperator = "greater_than"
	ConditionLessThan    ConditionOperator = "less_than"
	ConditionIn          ConditionOperator = "in"
	ConditionNotIn       ConditionOperator = "not_in"
	ConditionRegex       ConditionOperator = "regex"
)

// Condition is a single field comparison inside a threshold's condition tree
type Condition struct {
	Field         string            `json:"field"`
	Operator      ConditionOperator `json:"operator"`
	Value         interface{}       `json:"value"`
	CaseSensitive bool              `json:"case_sensitive,omitempty"`
}

// ConditionSet groups conditions: every entry in All must hold, and at least
// one entry in Any must hold when Any is non-empty.
type ConditionSet struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
}

// ActionType identifies what a threshold does once it fires
type ActionType string

const (
	ActionEscalate     ActionType = "escalate"
	ActionNotify       ActionType = "notify"
	ActionRunScript    ActionType = "run_script"
	ActionUpdateTicket ActionType = "update_ticket"
	ActionCreateTicket ActionType = "create_ticket"
)

// ThresholdAction is one configured action with its type-specific config blob
type ThresholdAction struct {
	Type   ActionType      `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// EscalationType controls when a linked chain is started
type EscalationType string

const (
	EscalationImmediate   EscalationType = "immediate"
	EscalationDelayed     EscalationType = "delayed"
	EscalationProgressive EscalationType = "progressive"
	EscalationScheduled   EscalationType = "scheduled"
)

// ThresholdStatistics tracks running trigger counters for a threshold
type ThresholdStatistics struct {
	TotalTriggers   int64      `json:"total_triggers"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	LastValue       float64    `json:"last_value"`
	SuccessRate     float64    `json:"success_rate"`
}

// Threshold defines one monitored condition and what happens when it breaches
type Threshold struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Type     ThresholdType     `json:"type"`
	Severity AlertSeverity     `json:"severity"`
	Operator ThresholdOperator `json:"operator,omitempty"`
	Value    float64           `json:"value,omitempty"`
	IsActive bool              `json:"is_active"`

	TriggerCount      int     `json:"trigger_count,omitempty"`
	TimeWindowSeconds int     `json:"time_window_seconds,omitempty"`
	TriggerRate       float64 `json:"trigger_rate,omitempty"`
	CooldownSeconds   int     `json:"cooldown_seconds,omitempty"`
	CheckInterval     int     `json:"check_interval,omitempty"`
	ClientID          string  `json:"client_id,omitempty"`

	Conditions *ConditionSet     `json:"conditions,omitempty"`
	Actions    []ThresholdAction `json:"actions,omitempty"`

	EscalationChainID   string         `json:"escalation_chain_id,omitempty"`
	EscalationType      EscalationType `json:"escalation_type,omitempty"`
	AutoEscalate        bool           `json:"auto_escalate"`
	EscalationDelay     int            `json:"escalation_delay,omitempty"`     // minutes, decision window
	EscalationThreshold int            `json:"escalation_threshold,omitempty"` // breach count required

	NotificationChannels   []string `json:"notification_channels,omitempty"`
	NotificationRecipients []string `json:"notification_recipients,omitempty"`

	Statistics ThresholdStatistics `json:"statistics"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAction reports whether the threshold carries an action of the given type
func (t *Threshold) HasAction(kind ActionType) bool {
	for _, a := range t.Actions {
		if a.Type == kind {
			return true
		}
	}
	return false
}
