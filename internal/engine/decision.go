package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
)

// Decider answers whether a breached threshold should escalate now.
// The count-window test and the cooldown are independent gates: both must
// pass before an escalation is dispatched.
type Decider struct {
	logger *zap.Logger
	ledger *BreachLedger
	clock  Clock

	mu            sync.Mutex
	lastEscalated map[string]time.Time
}

// NewDecider creates a decider over the given ledger
func NewDecider(ledger *BreachLedger, clock Clock, logger *zap.Logger) *Decider {
	return &Decider{
		logger:        logger.Named("decider"),
		ledger:        ledger,
		clock:         clock,
		lastEscalated: make(map[string]time.Time),
	}
}

// ShouldEscalate applies the count-in-window test. Returns false immediately
// when the threshold does not auto-escalate.
func (d *Decider) ShouldEscalate(t *model.Threshold) bool {
	if !t.AutoEscalate {
		return false
	}

	window := time.Duration(t.EscalationDelay) * time.Minute
	since := d.clock.Now().Add(-window)
	recent := d.ledger.CountSince(t.ID+":*", since)

	required := t.EscalationThreshold
	if required <= 0 {
		required = 1
	}

	d.logger.Debug("Escalation decision",
		zap.String("threshold_id", t.ID),
		zap.Int("recent_breaches", recent),
		zap.Int("required", required),
		zap.Duration("window", window))

	return recent >= required
}

// InCooldown reports whether a previous escalation for the threshold is
// still suppressing new ones.
func (d *Decider) InCooldown(t *model.Threshold) bool {
	if t.CooldownSeconds <= 0 {
		return false
	}

	d.mu.Lock()
	last, ok := d.lastEscalated[t.ID]
	d.mu.Unlock()
	if !ok {
		return false
	}

	return d.clock.Now().Before(last.Add(time.Duration(t.CooldownSeconds) * time.Second))
}

// MarkEscalated records that an escalation fired for the threshold now,
// starting its cooldown.
func (d *Decider) MarkEscalated(thresholdID string) {
	d.mu.Lock()
	d.lastEscalated[thresholdID] = d.clock.Now()
	d.mu.Unlock()
}

// Forget drops cooldown state for a deleted threshold
func (d *Decider) Forget(thresholdID string) {
	d.mu.Lock()
	delete(d.lastEscalated, thresholdID)
	d.mu.Unlock()
}
