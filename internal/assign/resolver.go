package assign

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
)

// ErrNoAssignee is returned when a strategy cannot produce a user
var ErrNoAssignee = errors.New("no assignee available")

// Directory provides live technician state to assignment strategies
type Directory interface {
	// Profile returns a technician profile by user id
	Profile(userID string) (*model.TechnicianProfile, bool)

	// Profiles returns all known technician profiles
	Profiles() []*model.TechnicianProfile

	// GroupMembers returns the profiles belonging to a group
	GroupMembers(groupID string) []*model.TechnicianProfile

	// TicketCount returns the user's current open ticket count
	TicketCount(userID string) int
}

// Context carries the triggering situation a resolution happens in
type Context struct {
	Priority string
	Severity model.AlertSeverity
	Now      time.Time
}

// Strategy resolves a level's assignee. Implementations are deterministic
// given identical inputs so escalations stay auditable.
type Strategy interface {
	Resolve(level *model.EscalationLevel, chain *model.EscalationChain, dir Directory, ctx Context) (string, error)
}

// Resolver selects and runs the strategy matching a level's assignment type
type Resolver struct {
	logger *zap.Logger
	dir    Directory

	mu         sync.Mutex
	strategies map[model.AssignmentType]Strategy
	groupRR    map[string]int
}

// NewResolver creates a resolver over the given directory
func NewResolver(dir Directory, logger *zap.Logger) *Resolver {
	r := &Resolver{
		logger:  logger.Named("resolver"),
		dir:     dir,
		groupRR: make(map[string]int),
	}
	r.strategies = map[model.AssignmentType]Strategy{
		model.AssignSpecificUser:  &SpecificUserStrategy{},
		model.AssignUserGroup:     &UserGroupStrategy{resolver: r},
		model.AssignRoundRobin:    &RoundRobinStrategy{},
		model.AssignLeastLoaded:   &LeastLoadedStrategy{},
		model.AssignSkillBased:    &SkillBasedStrategy{},
		model.AssignTimeBased:     &TimeBasedStrategy{},
		model.AssignPriorityBased: &PriorityBasedStrategy{},
	}
	return r
}

// Resolve runs the strategy for the level's assignment type. The resolver
// lock also serializes round-robin cursor updates on the chain.
func (r *Resolver) Resolve(level *model.EscalationLevel, chain *model.EscalationChain, ctx Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	strategy, ok := r.strategies[level.AssignmentType]
	if !ok {
		r.logger.Warn("Unknown assignment type",
			zap.String("assignment_type", string(level.AssignmentType)),
			zap.String("chain_id", chain.ID))
		return "", ErrNoAssignee
	}

	userID, err := strategy.Resolve(level, chain, r.dir, ctx)
	if err != nil {
		return "", err
	}

	r.logger.Debug("Assignee resolved",
		zap.String("chain_id", chain.ID),
		zap.Int("level", level.Order),
		zap.String("assignment_type", string(level.AssignmentType)),
		zap.String("user_id", userID))

	return userID, nil
}

// SpecificUserStrategy returns the level's configured user directly
type SpecificUserStrategy struct{}

func (s *SpecificUserStrategy) Resolve(level *model.EscalationLevel, chain *model.EscalationChain, dir Directory, ctx Context) (string, error) {
	if level.AssignTo.UserID == "" {
		return "", ErrNoAssignee
	}
	return level.AssignTo.UserID, nil
}

// UserGroupStrategy picks the least-busy available group member, rotating
// through tied members so repeated resolutions spread the load.
type UserGroupStrategy struct {
	resolver *Resolver
}

func (s *UserGroupStrategy) Resolve(level *model.EscalationLevel, chain *model.EscalationChain, dir Directory, ctx Context) (string, error) {
	groupID := level.AssignTo.GroupID
	if groupID == "" {
		groupID = level.AssignTo.GroupName
	}
	if groupID == "" {
		return "", ErrNoAssignee
	}

	members := dir.GroupMembers(groupID)
	var available []*model.TechnicianProfile
	for _, m := range members {
		if m.Availability.Status != model.AvailabilityOffline {
			available = append(available, m)
		}
	}
	if len(available) == 0 {
		return "", ErrNoAssignee
	}

	sort.Slice(available, func(i, j int) bool { return available[i].UserID < available[j].UserID })

	minLoad := -1
	for _, m := range available {
		load := dir.TicketCount(m.UserID)
		if minLoad == -1 || load < minLoad {
			minLoad = load
		}
	}

	var tied []*model.TechnicianProfile
	for _, m := range available {
		if dir.TicketCount(m.UserID) == minLoad {
			tied = append(tied, m)
		}
	}

	cursor := s.resolver.groupRR[groupID]
	s.resolver.groupRR[groupID] = cursor + 1
	return tied[cursor%len(tied)].UserID, nil
}

// RoundRobinStrategy advances the chain's persistent cursor through the pool
type RoundRobinStrategy struct{}

func (s *RoundRobinStrategy) Resolve(level *model.EscalationLevel, chain *model.EscalationChain, dir Directory, ctx Context) (string, error) {
	rules := chain.AssignmentRules.RoundRobin
	if rules == nil || len(rules.UserPool) == 0 {
		return "", ErrNoAssignee
	}

	pool := rules.UserPool
	for attempt := 0; attempt < len(pool); attempt++ {
		idx := (rules.LastAssignedIndex + 1 + attempt) % len(pool)
		userID := pool[idx]

		if rules.SkipOfflineUsers {
			if p, ok := dir.Profile(userID); ok && p.Availability.Status == model.AvailabilityOffline {
				continue
			}
		}

		rules.LastAssignedIndex = idx
		return userID, nil
	}

	return "", ErrNoAssignee
}

// LeastLoadedStrategy picks the pool member with the fewest open tickets.
// Members at or above the per-user cap are excluded; ties break by user id.
type LeastLoadedStrategy struct{}

func (s *LeastLoadedStrategy) Resolve(level *model.EscalationLevel, chain *model.EscalationChain, dir Directory, ctx Context) (string, error) {
	rules := chain.AssignmentRules.LeastLoaded
	if rules == nil || len(rules.UserPool) == 0 {
		return "", ErrNoAssignee
	}

	pool := append([]string(nil), rules.UserPool...)
	sort.Strings(pool)

	selected := ""
	minLoad := -1
	for _, userID := range pool {
		load := dir.TicketCount(userID)
		if rules.MaxTicketsPerUser > 0 && load >= rules.MaxTicketsPerUser {
			continue
		}
		if minLoad == -1 || load < minLoad {
			minLoad = load
			selected = userID
		}
	}

	if selected == "" {
		return "", ErrNoAssignee
	}
	return selected, nil
}

// SkillBasedStrategy scores candidates by required-skill coverage plus a
// preferred-skill bonus; candidates below the minimum match are excluded.
type SkillBasedStrategy struct{}

const preferredSkillBonus = 0.05

func (s *SkillBasedStrategy) Resolve(level *model.EscalationLevel, chain *model.EscalationChain, dir Directory, ctx Context) (string, error) {
	rules := chain.AssignmentRules.SkillBased
	if rules == nil || len(rules.RequiredSkills) == 0 {
		return "", ErrNoAssignee
	}

	candidates := dir.Profiles()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].UserID < candidates[j].UserID })

	selected := ""
	bestScore := -1.0
	bestLoad := -1
	for _, p := range candidates {
		if p.Availability.Status == model.AvailabilityOffline {
			continue
		}

		matched := 0
		for _, skill := range rules.RequiredSkills {
			if p.HasSkill(skill) {
				matched++
			}
		}
		fraction := float64(matched) / float64(len(rules.RequiredSkills))
		if fraction*100 < float64(rules.MinimumSkillMatch) {
			continue
		}

		score := fraction
		for _, skill := range rules.PreferredSkills {
			if p.HasSkill(skill) {
				score += preferredSkillBonus
			}
		}

		load := dir.TicketCount(p.UserID)
		if score > bestScore || (score == bestScore && load < bestLoad) {
			bestScore = score
			bestLoad = load
			selected = p.UserID
		}
	}

	if selected == "" {
		return "", ErrNoAssignee
	}
	return selected, nil
}

// TimeBasedStrategy picks the user whose weekly shift covers the current
// moment in the schedule's timezone.
type TimeBasedStrategy struct{}

func (s *TimeBasedStrategy) Resolve(level *model.EscalationLevel, chain *model.EscalationChain, dir Directory, ctx Context) (string, error) {
	rules := chain.AssignmentRules.TimeBased
	if rules == nil || len(rules.Schedules) == 0 {
		return "", ErrNoAssignee
	}

	for _, schedule := range rules.Schedules {
		loc, err := time.LoadLocation(schedule.Timezone)
		if err != nil {
			loc = time.UTC
		}
		local := ctx.Now.In(loc)

		for _, shift := range schedule.Shifts {
			if shiftCovers(shift, local) {
				return schedule.UserID, nil
			}
		}
	}

	return "", ErrNoAssignee
}

// shiftCovers reports whether a shift covers the local moment. Shifts whose
// end precedes their start span midnight into the next day.
func shiftCovers(shift model.Shift, local time.Time) bool {
	start, okS := parseClock(shift.StartTime)
	end, okE := parseClock(shift.EndTime)
	if !okS || !okE {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	day := int(local.Weekday())

	if end >= start {
		return day == shift.DayOfWeek && minutes >= start && minutes < end
	}

	// Overnight shift
	if day == shift.DayOfWeek && minutes >= start {
		return true
	}
	return day == (shift.DayOfWeek+1)%7 && minutes < end
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// PriorityBasedStrategy defers level selection to the chain's priority
// rules (applied by the chain runner at start) and assigns the level's
// explicit user when one is configured.
type PriorityBasedStrategy struct{}

func (s *PriorityBasedStrategy) Resolve(level *model.EscalationLevel, chain *model.EscalationChain, dir Directory, ctx Context) (string, error) {
	if level.AssignTo.UserID != "" {
		return level.AssignTo.UserID, nil
	}
	return "", ErrNoAssignee
}
