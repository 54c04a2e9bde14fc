package config

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
)

// Store is the in-memory administrative configuration store: thresholds,
// escalation chains and technician profiles. It backs the read interfaces
// the engine, resolver and chain runner consume.
type Store struct {
	logger *zap.Logger

	thresholds   sync.Map
	chains       sync.Map
	technicians  sync.Map
	ticketCounts sync.Map

	mu        sync.Mutex
	onDeleted []func(thresholdID string)
}

// NewStore creates an empty configuration store
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		logger: logger.Named("config-store"),
	}
}

// OnThresholdDeleted registers a hook invoked after a threshold is deleted.
// Used to drop engine soft state (ledger series, cooldowns) keyed by the id.
func (s *Store) OnThresholdDeleted(fn func(thresholdID string)) {
	s.mu.Lock()
	s.onDeleted = append(s.onDeleted, fn)
	s.mu.Unlock()
}

// AddThreshold validates and stores a new threshold
func (s *Store) AddThreshold(t *model.Threshold) error {
	if err := validateThreshold(t); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	s.thresholds.Store(t.ID, t)

	s.logger.Info("Threshold added",
		zap.String("id", t.ID),
		zap.String("name", t.Name),
		zap.String("type", string(t.Type)))
	return nil
}

// UpdateThreshold replaces an existing threshold
func (s *Store) UpdateThreshold(t *model.Threshold) error {
	if _, ok := s.thresholds.Load(t.ID); !ok {
		return fmt.Errorf("%w: %s", ErrThresholdNotFound, t.ID)
	}
	if err := validateThreshold(t); err != nil {
		return err
	}
	t.UpdatedAt = time.Now()
	s.thresholds.Store(t.ID, t)
	return nil
}

// DeleteThreshold removes a threshold and fires the deletion hooks
func (s *Store) DeleteThreshold(id string) error {
	if _, ok := s.thresholds.Load(id); !ok {
		return fmt.Errorf("%w: %s", ErrThresholdNotFound, id)
	}
	s.thresholds.Delete(id)

	s.mu.Lock()
	hooks := append([]func(string){}, s.onDeleted...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(id)
	}

	s.logger.Info("Threshold deleted", zap.String("id", id))
	return nil
}

// GetThreshold returns a threshold by id
func (s *Store) GetThreshold(id string) (*model.Threshold, error) {
	value, ok := s.thresholds.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThresholdNotFound, id)
	}
	return value.(*model.Threshold), nil
}

// ListActiveThresholds returns thresholds with IsActive set
func (s *Store) ListActiveThresholds() []*model.Threshold {
	var out []*model.Threshold
	s.thresholds.Range(func(key, value interface{}) bool {
		t := value.(*model.Threshold)
		if t.IsActive {
			out = append(out, t)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddChain stores a new escalation chain
func (s *Store) AddChain(c *model.EscalationChain) error {
	if c.Name == "" {
		return fmt.Errorf("chain name is required")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	s.chains.Store(c.ID, c)

	s.logger.Info("Escalation chain added",
		zap.String("id", c.ID),
		zap.String("name", c.Name),
		zap.Int("levels", len(c.Levels)))
	return nil
}

// UpdateChain replaces an existing chain
func (s *Store) UpdateChain(c *model.EscalationChain) error {
	if _, ok := s.chains.Load(c.ID); !ok {
		return fmt.Errorf("%w: %s", ErrChainNotFound, c.ID)
	}
	c.UpdatedAt = time.Now()
	s.chains.Store(c.ID, c)
	return nil
}

// DeleteChain removes a chain
func (s *Store) DeleteChain(id string) error {
	if _, ok := s.chains.Load(id); !ok {
		return fmt.Errorf("%w: %s", ErrChainNotFound, id)
	}
	s.chains.Delete(id)
	return nil
}

// Chain returns a chain by id
func (s *Store) Chain(id string) (*model.EscalationChain, bool) {
	value, ok := s.chains.Load(id)
	if !ok {
		return nil, false
	}
	return value.(*model.EscalationChain), true
}

// ListChains returns all chains sorted by descending priority
func (s *Store) ListChains() []*model.EscalationChain {
	var out []*model.EscalationChain
	s.chains.Range(func(key, value interface{}) bool {
		out = append(out, value.(*model.EscalationChain))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AddTechnician stores a technician profile
func (s *Store) AddTechnician(p *model.TechnicianProfile) error {
	if p.UserID == "" {
		return fmt.Errorf("technician user id is required")
	}
	s.technicians.Store(p.UserID, p)
	return nil
}

// Profile returns a technician profile by user id
func (s *Store) Profile(userID string) (*model.TechnicianProfile, bool) {
	value, ok := s.technicians.Load(userID)
	if !ok {
		return nil, false
	}
	return value.(*model.TechnicianProfile), true
}

// Profiles returns all technician profiles
func (s *Store) Profiles() []*model.TechnicianProfile {
	var out []*model.TechnicianProfile
	s.technicians.Range(func(key, value interface{}) bool {
		out = append(out, value.(*model.TechnicianProfile))
		return true
	})
	return out
}

// GroupMembers returns the profiles belonging to a group
func (s *Store) GroupMembers(groupID string) []*model.TechnicianProfile {
	var out []*model.TechnicianProfile
	s.technicians.Range(func(key, value interface{}) bool {
		p := value.(*model.TechnicianProfile)
		if p.InGroup(groupID) {
			out = append(out, p)
		}
		return true
	})
	return out
}

// TicketCount returns the user's current open ticket count. Live counts fed
// by the ticket subsystem take precedence over the profile snapshot.
func (s *Store) TicketCount(userID string) int {
	if value, ok := s.ticketCounts.Load(userID); ok {
		return value.(int)
	}
	if p, ok := s.Profile(userID); ok {
		return p.CurrentTicketCount
	}
	return 0
}

// SetTicketCount updates the live ticket count for a user
func (s *Store) SetTicketCount(userID string, count int) {
	s.ticketCounts.Store(userID, count)
}

// validateThreshold rejects definitions the evaluator cannot use safely
func validateThreshold(t *model.Threshold) error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidThreshold)
	}
	if t.TimeWindowSeconds < 0 || t.CooldownSeconds < 0 || t.CheckInterval < 0 {
		return fmt.Errorf("%w: %q: time windows must not be negative", ErrInvalidThreshold, t.Name)
	}
	if t.TriggerRate < 0 || t.TriggerRate > 1 {
		return fmt.Errorf("%w: %q: trigger rate must be between 0 and 1", ErrInvalidThreshold, t.Name)
	}
	if t.EscalationDelay < 0 || t.EscalationThreshold < 0 {
		return fmt.Errorf("%w: %q: escalation parameters must not be negative", ErrInvalidThreshold, t.Name)
	}
	return nil
}
