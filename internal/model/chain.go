package model

import "time"

// AssignmentType selects the strategy used to resolve a level's assignee
type AssignmentType string

const (
	AssignSpecificUser  AssignmentType = "specific_user"
	AssignUserGroup     AssignmentType = "user_group"
	AssignRoundRobin    AssignmentType = "round_robin"
	AssignLeastLoaded   AssignmentType = "least_loaded"
	AssignSkillBased    AssignmentType = "skill_based"
	AssignTimeBased     AssignmentType = "time_based"
	AssignPriorityBased AssignmentType = "priority_based"
)

// AssignTarget is the strategy-specific target spec of a level
type AssignTarget struct {
	UserID    string `json:"user_id,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
}

// LevelTriggerType is the kind of condition that lets a level fire
type LevelTriggerType string

const (
	TriggerFailureCount LevelTriggerType = "failure_count"
	TriggerTimeElapsed  LevelTriggerType = "time_elapsed"
	TriggerNoResponse   LevelTriggerType = "no_response"
	TriggerSeverity     LevelTriggerType = "severity"
	TriggerCustom       LevelTriggerType = "custom"
)

// LevelTrigger gates whether a level participates in a chain run
type LevelTrigger struct {
	Type  LevelTriggerType `json:"type"`
	Value string           `json:"value,omitempty"`
}

// EscalationLevel is one step in a chain, embedded in the chain definition.
// WaitMinutes is how long the level may stay unanswered before it times out;
// zero means the level waits indefinitely for an explicit resolve or fail.
type EscalationLevel struct {
	Order                int            `json:"order"`
	Name                 string         `json:"name"`
	AssignmentType       AssignmentType `json:"assignment_type"`
	AssignTo             AssignTarget   `json:"assign_to"`
	Trigger              *LevelTrigger  `json:"trigger,omitempty"`
	WaitMinutes          int            `json:"wait_minutes"`
	NotificationChannels []string       `json:"notification_channels,omitempty"`
	AutoReassign         bool           `json:"auto_reassign"`
	SkipIfUnavailable    bool           `json:"skip_if_unavailable"`
}

// RoundRobinRules holds the rotating-cursor configuration for a chain
type RoundRobinRules struct {
	UserPool          []string `json:"user_pool"`
	LastAssignedIndex int      `json:"last_assigned_index"`
	SkipOfflineUsers  bool     `json:"skip_offline_users"`
}

// LeastLoadedRules configures the least-loaded pool and per-user cap
type LeastLoadedRules struct {
	UserPool          []string `json:"user_pool"`
	MaxTicketsPerUser int      `json:"max_tickets_per_user"`
}

// SkillBasedRules configures skill matching
type SkillBasedRules struct {
	RequiredSkills    []string `json:"required_skills"`
	PreferredSkills   []string `json:"preferred_skills,omitempty"`
	MinimumSkillMatch int      `json:"minimum_skill_match"` // percent
}

// TimeBasedRules configures per-user weekly shift schedules
type TimeBasedRules struct {
	Schedules []UserShiftSchedule `json:"schedules"`
}

// UserShiftSchedule is one user's weekly on-call coverage
type UserShiftSchedule struct {
	UserID   string  `json:"user_id"`
	Timezone string  `json:"timezone"`
	Shifts   []Shift `json:"shifts"`
}

// Shift covers one day-of-week time range, times as "HH:MM"
type Shift struct {
	DayOfWeek int    `json:"day_of_week"` // 0 = Sunday
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// AssignmentRules bundles strategy-specific configuration on a chain
type AssignmentRules struct {
	RoundRobin  *RoundRobinRules  `json:"round_robin,omitempty"`
	LeastLoaded *LeastLoadedRules `json:"least_loaded,omitempty"`
	SkillBased  *SkillBasedRules  `json:"skill_based,omitempty"`
	TimeBased   *TimeBasedRules   `json:"time_based,omitempty"`
}

// PriorityRule maps a ticket priority to escalation timing and level skipping
type PriorityRule struct {
	Priority             string `json:"priority"`
	EscalateAfterMinutes int    `json:"escalate_after_minutes"`
	SkipLevels           int    `json:"skip_levels"`
}

// EscalationHistoryEntry is one append-only record of a chain transition
type EscalationHistoryEntry struct {
	TicketID  string    `json:"ticket_id"`
	FromUser  string    `json:"from_user,omitempty"`
	ToUser    string    `json:"to_user,omitempty"`
	Level     int       `json:"level"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
}

// EscalationChain is an ordered sequence of levels plus the live state the
// assignment strategies need (cursors, counters, history).
type EscalationChain struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
	Priority int    `json:"priority"` // higher evaluated first

	Levels []EscalationLevel `json:"levels"`

	AlertTypes     []string        `json:"alert_types,omitempty"`
	SeverityLevels []AlertSeverity `json:"severity_levels,omitempty"`

	AssignmentRules AssignmentRules `json:"assignment_rules"`
	PriorityRules   []PriorityRule  `json:"priority_rules,omitempty"`

	DefaultFailureThreshold int            `json:"default_failure_threshold,omitempty"`
	FailureThresholds       map[string]int `json:"failure_thresholds,omitempty"`

	TotalEscalations      int64      `json:"total_escalations"`
	SuccessfulEscalations int64      `json:"successful_escalations"`
	LastEscalatedAt       *time.Time `json:"last_escalated_at,omitempty"`

	EscalationHistory []EscalationHistoryEntry `json:"escalation_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether the chain's scoping filters admit the given
// alert type and severity. Empty filters admit everything.
func (c *EscalationChain) Matches(alertType string, severity AlertSeverity) bool {
	if len(c.AlertTypes) > 0 {
		found := false
		for _, t := range c.AlertTypes {
			if t == alertType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.SeverityLevels) > 0 {
		for _, s := range c.SeverityLevels {
			if s == severity {
				return true
			}
		}
		return false
	}
	return true
}

// SkipLevelsFor returns the level-skip count configured for a priority
func (c *EscalationChain) SkipLevelsFor(priority string) int {
	for _, r := range c.PriorityRules {
		if r.Priority == priority {
			return r.SkipLevels
		}
	}
	return 0
}
