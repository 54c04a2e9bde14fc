package model

import "time"

// AvailabilityStatus is a technician's current availability
type AvailabilityStatus string

const (
	AvailabilityOnline  AvailabilityStatus = "online"
	AvailabilityBusy    AvailabilityStatus = "busy"
	AvailabilityOffline AvailabilityStatus = "offline"
)

// TechnicianAvailability bundles a technician's status and schedule
type TechnicianAvailability struct {
	Status         AvailabilityStatus `json:"status"`
	WeeklySchedule []Shift            `json:"weekly_schedule,omitempty"`
	NextAvailable  *time.Time         `json:"next_available,omitempty"`
}

// TechnicianPerformance tracks long-running assignment outcomes
type TechnicianPerformance struct {
	TicketsResolved   int64   `json:"tickets_resolved"`
	AverageResolution float64 `json:"average_resolution_minutes"`
	EscalationsRaised int64   `json:"escalations_raised"`
}

// TechnicianProfile is the read-only input to assignment strategies.
// Current ticket counts are mutated by the ticket subsystem, not here.
type TechnicianProfile struct {
	UserID          string                 `json:"user_id"`
	Name            string                 `json:"name,omitempty"`
	GroupIDs        []string               `json:"group_ids,omitempty"`
	Skills          []string               `json:"skills,omitempty"`
	Certifications  []string               `json:"certifications,omitempty"`
	ExperienceLevel int                    `json:"experience_level,omitempty"`
	Specializations []string               `json:"specializations,omitempty"`
	Availability    TechnicianAvailability `json:"availability"`

	CurrentTicketCount int `json:"current_ticket_count"`
	MaxTicketCount     int `json:"max_ticket_count,omitempty"`

	Performance TechnicianPerformance `json:"performance"`

	PreferredAlertTypes []string `json:"preferred_alert_types,omitempty"`
	PreferredClients    []string `json:"preferred_clients,omitempty"`
}

// HasSkill reports whether the profile lists the given skill
func (p *TechnicianProfile) HasSkill(skill string) bool {
	for _, s := range p.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// InGroup reports whether the profile belongs to the given group
func (p *TechnicianProfile) InGroup(groupID string) bool {
	for _, g := range p.GroupIDs {
		if g == groupID {
			return true
		}
	}
	return false
}
