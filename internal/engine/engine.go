package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
	"github.com/t77yq/escalation-engine/internal/notify"
	"github.com/t77yq/escalation-engine/internal/ticket"
)

const (
	alertSubjectPrefix = "alert."
	eventStreamName    = "EVENTS"
	eventStreamMaxAge  = 7 * 24 * time.Hour
)

// SetupEventStream creates the stream backing alert, ticket and action
// event publishes. Call once before wiring the engine.
func SetupEventStream(js nats.JetStreamContext, logger *zap.Logger) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     eventStreamName,
		Subjects: []string{"alert.>", "ticket.>", "action.>"},
		Storage:  nats.FileStorage,
		MaxAge:   eventStreamMaxAge,
	})
	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			logger.Info("Stream already exists", zap.String("stream", eventStreamName))
			return nil
		}
		return fmt.Errorf("failed to create event stream: %w", err)
	}

	logger.Info("Stream created successfully", zap.String("stream", eventStreamName))
	return nil
}

// ConfigSource provides the engine's read-mostly configuration
type ConfigSource interface {
	// ListActiveThresholds returns thresholds with IsActive set
	ListActiveThresholds() []*model.Threshold

	// ListChains returns all chains, active and inactive
	ListChains() []*model.EscalationChain

	// Chain returns a chain by id
	Chain(id string) (*model.EscalationChain, bool)
}

// Escalator starts escalation chain runs on behalf of the engine
type Escalator interface {
	Start(ctx context.Context, chain *model.EscalationChain, trigger model.EscalationTrigger) (*model.EscalationExecution, error)
}

// Stats are the engine's running counters
type Stats struct {
	SamplesProcessed   int64 `json:"samples_processed"`
	BreachesRecorded   int64 `json:"breaches_recorded"`
	EscalationsStarted int64 `json:"escalations_started"`
	ActionFailures     int64 `json:"action_failures"`
}

// Engine evaluates incoming samples against active thresholds and drives
// the configured actions when a breach warrants escalation. Samples for the
// same threshold/device key are processed serially; different keys run
// concurrently.
type Engine struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	ledger   *BreachLedger
	decider  *Decider
	clock    Clock
	config   ConfigSource
	tickets  ticket.Repository
	notifier *notify.Registry
	chains   Escalator

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
	stats    Stats
}

// NewEngine creates the engine façade. The JetStream context may be nil when
// alert event publishing is not wanted (tests).
func NewEngine(js nats.JetStreamContext, ledger *BreachLedger, decider *Decider, config ConfigSource, tickets ticket.Repository, notifier *notify.Registry, chains Escalator, clock Clock, logger *zap.Logger) *Engine {
	return &Engine{
		logger:   logger.Named("engine"),
		js:       js,
		ledger:   ledger,
		decider:  decider,
		clock:    clock,
		config:   config,
		tickets:  tickets,
		notifier: notifier,
		chains:   chains,
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// OnSample evaluates one sample against every active threshold
func (e *Engine) OnSample(ctx context.Context, sample *model.AlertMetric) {
	e.mu.Lock()
	e.stats.SamplesProcessed++
	e.mu.Unlock()

	for _, threshold := range e.config.ListActiveThresholds() {
		e.evaluateThreshold(ctx, threshold, sample)
	}
}

// Stats returns a snapshot of the engine counters
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) evaluateThreshold(ctx context.Context, threshold *model.Threshold, sample *model.AlertMetric) {
	key := BreachKey(threshold.ID, sample.DeviceID)
	lock := e.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	result := Evaluate(threshold, sample)
	if !result.Breached {
		return
	}

	now := e.clock.Now()
	ts := sample.Timestamp
	if ts.IsZero() {
		ts = now
	}
	e.ledger.Record(key, sample.Value, ts)

	// Key locks serialize per device only; statistics are shared across
	// every device breaching the threshold.
	e.mu.Lock()
	threshold.Statistics.TotalTriggers++
	threshold.Statistics.LastValue = sample.Value
	threshold.Statistics.LastTriggeredAt = &now
	e.stats.BreachesRecorded++
	e.mu.Unlock()

	e.logger.Info("Threshold breached",
		zap.String("threshold_id", threshold.ID),
		zap.String("threshold_name", threshold.Name),
		zap.String("device_id", sample.DeviceID),
		zap.Float64("value", sample.Value),
		zap.String("message", result.Message))

	e.publishAlert(threshold, sample, result.Message)

	if !e.decider.ShouldEscalate(threshold) {
		return
	}
	if e.decider.InCooldown(threshold) {
		e.logger.Debug("Escalation suppressed by cooldown",
			zap.String("threshold_id", threshold.ID),
			zap.Int("cooldown_seconds", threshold.CooldownSeconds))
		return
	}

	e.runActions(ctx, threshold, sample, result.Message)
	e.decider.MarkEscalated(threshold.ID)
}

// runActions fires the threshold's configured actions in fixed order:
// create-ticket, direct notifications, escalation chain. Each action is
// fault-isolated; a failure is logged and counted but never blocks the rest.
func (e *Engine) runActions(ctx context.Context, threshold *model.Threshold, sample *model.AlertMetric, message string) {
	var performed []string

	ticketID := ""
	if threshold.HasAction(model.ActionCreateTicket) {
		id, err := e.tickets.Create(ctx, ticket.Fields{
			Title:       fmt.Sprintf("%s: %s", threshold.Name, sample.DeviceName),
			Description: message,
			Severity:    threshold.Severity,
			Priority:    string(threshold.Severity),
			DeviceID:    sample.DeviceID,
			ThresholdID: threshold.ID,
			ClientID:    threshold.ClientID,
		})
		if err != nil {
			e.actionFailed("create_ticket", threshold.ID, err)
		} else {
			ticketID = id
			performed = append(performed, "created ticket "+id)
		}
	}

	if len(threshold.NotificationChannels) > 0 {
		subject := fmt.Sprintf("[%s] %s", threshold.Severity, threshold.Name)
		body := fmt.Sprintf("Device %s: %s", sample.DeviceName, message)
		for _, channel := range threshold.NotificationChannels {
			if err := e.notifier.Notify(ctx, channel, threshold.NotificationRecipients, subject, body, threshold.Severity); err != nil {
				e.actionFailed("notify", threshold.ID, err)
				continue
			}
			performed = append(performed, "notified via "+channel)
		}
	}

	if chain := e.selectChain(threshold); chain != nil {
		exec, err := e.chains.Start(ctx, chain, model.EscalationTrigger{
			TicketID: ticketID,
			AlertID:  uuid.New().String(),
			DeviceID: sample.DeviceID,
			Severity: threshold.Severity,
			Priority: string(threshold.Severity),
			Reason:   message,
		})
		if err != nil {
			e.actionFailed("escalate", threshold.ID, err)
		} else {
			e.mu.Lock()
			e.stats.EscalationsStarted++
			e.mu.Unlock()
			performed = append(performed, "started escalation "+exec.ID)
		}
	}

	for _, action := range threshold.Actions {
		switch action.Type {
		case model.ActionRunScript, model.ActionUpdateTicket:
			if err := e.publishAction(ctx, threshold, action, ticketID); err != nil {
				e.actionFailed(string(action.Type), threshold.ID, err)
				continue
			}
			performed = append(performed, "requested "+string(action.Type))
		case model.ActionCreateTicket, model.ActionNotify, model.ActionEscalate:
			// Handled above in fixed order.
		}
	}

	e.logger.Info("Escalation actions completed",
		zap.String("threshold_id", threshold.ID),
		zap.String("device_id", sample.DeviceID),
		zap.String("actions", strings.Join(performed, "; ")))
}

// selectChain returns the chain linked to the threshold, or the
// highest-priority active chain whose scoping filters match.
func (e *Engine) selectChain(threshold *model.Threshold) *model.EscalationChain {
	if threshold.EscalationChainID != "" {
		if chain, ok := e.config.Chain(threshold.EscalationChainID); ok && chain.IsActive {
			return chain
		}
		e.logger.Warn("Linked chain missing or inactive",
			zap.String("threshold_id", threshold.ID),
			zap.String("chain_id", threshold.EscalationChainID))
		return nil
	}

	if !threshold.HasAction(model.ActionEscalate) {
		return nil
	}

	chains := e.config.ListChains()
	sort.Slice(chains, func(i, j int) bool { return chains[i].Priority > chains[j].Priority })
	for _, chain := range chains {
		if chain.IsActive && chain.Matches(string(threshold.Type), threshold.Severity) {
			return chain
		}
	}
	return nil
}

func (e *Engine) publishAlert(threshold *model.Threshold, sample *model.AlertMetric, message string) {
	if e.js == nil {
		return
	}

	alert := struct {
		ID          string              `json:"id"`
		ThresholdID string              `json:"threshold_id"`
		Type        model.ThresholdType `json:"type"`
		Severity    model.AlertSeverity `json:"severity"`
		DeviceID    string              `json:"device_id"`
		Value       float64             `json:"value"`
		Message     string              `json:"message"`
		CreatedAt   time.Time           `json:"created_at"`
	}{
		ID:          uuid.New().String(),
		ThresholdID: threshold.ID,
		Type:        threshold.Type,
		Severity:    threshold.Severity,
		DeviceID:    sample.DeviceID,
		Value:       sample.Value,
		Message:     message,
		CreatedAt:   e.clock.Now(),
	}

	data, err := json.Marshal(alert)
	if err != nil {
		e.logger.Error("Failed to marshal alert", zap.Error(err))
		return
	}

	if _, err := e.js.Publish(alertSubjectPrefix+string(threshold.Type), data); err != nil {
		e.logger.Error("Failed to publish alert", zap.Error(err))
	}
}

func (e *Engine) publishAction(ctx context.Context, threshold *model.Threshold, action model.ThresholdAction, ticketID string) error {
	if e.js == nil {
		return nil
	}

	event := struct {
		ThresholdID string          `json:"threshold_id"`
		TicketID    string          `json:"ticket_id,omitempty"`
		Config      json.RawMessage `json:"config,omitempty"`
		RequestedAt time.Time       `json:"requested_at"`
	}{
		ThresholdID: threshold.ID,
		TicketID:    ticketID,
		Config:      action.Config,
		RequestedAt: e.clock.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal action event: %w", err)
	}

	if _, err := e.js.Publish("action."+string(action.Type), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish action event: %w", err)
	}
	return nil
}

func (e *Engine) actionFailed(action, thresholdID string, err error) {
	e.mu.Lock()
	e.stats.ActionFailures++
	e.mu.Unlock()

	e.logger.Error("Threshold action failed",
		zap.String("action", action),
		zap.String("threshold_id", thresholdID),
		zap.Error(err))
}

func (e *Engine) keyLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.keyLocks[key] = lock
	}
	return lock
}

// ForgetThreshold drops the per-device key locks held for a deleted
// threshold. Registered as a threshold-deleted hook alongside the ledger
// and decider cleanup.
func (e *Engine) ForgetThreshold(thresholdID string) {
	prefix := thresholdID + ":"
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.keyLocks {
		if strings.HasPrefix(key, prefix) {
			delete(e.keyLocks, key)
		}
	}
}
