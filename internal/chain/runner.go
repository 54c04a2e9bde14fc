package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/assign"
	"github.com/t77yq/escalation-engine/internal/engine"
	"github.com/t77yq/escalation-engine/internal/model"
	"github.com/t77yq/escalation-engine/internal/notify"
	"github.com/t77yq/escalation-engine/internal/storage"
)

var (
	// ErrExecutionNotFound is returned when an execution id is unknown
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionTerminal is returned when a transition is attempted on a
	// completed, failed or cancelled execution
	ErrExecutionTerminal = errors.New("execution already terminal")

	// ErrNoLevels is returned when a chain has no levels to traverse
	ErrNoLevels = errors.New("chain has no levels")
)

// ChainSource provides chain definitions by id
type ChainSource interface {
	Chain(id string) (*model.EscalationChain, bool)
}

// Runner walks escalation chains level by level. Each execution is advanced
// by exactly one goroutine at a time: every transition takes the execution's
// lock and re-checks terminal status before applying anything.
type Runner struct {
	logger   *zap.Logger
	resolver *assign.Resolver
	notifier *notify.Registry
	chains   ChainSource
	store    storage.ExecutionStore
	clock    engine.Clock

	mu         sync.Mutex
	executions map[string]*model.EscalationExecution
	locks      map[string]*sync.Mutex
	chainLocks map[string]*sync.Mutex
	timers     map[string]*time.Timer
}

// NewRunner creates a chain runner
func NewRunner(resolver *assign.Resolver, notifier *notify.Registry, chains ChainSource, store storage.ExecutionStore, clock engine.Clock, logger *zap.Logger) *Runner {
	return &Runner{
		logger:     logger.Named("chain-runner"),
		resolver:   resolver,
		notifier:   notifier,
		chains:     chains,
		store:      store,
		clock:      clock,
		executions: make(map[string]*model.EscalationExecution),
		locks:      make(map[string]*sync.Mutex),
		chainLocks: make(map[string]*sync.Mutex),
		timers:     make(map[string]*time.Timer),
	}
}

// Start begins a new execution for the chain. The starting level is 0, or
// further along when the chain's priority rules skip levels for the
// trigger's priority.
func (r *Runner) Start(ctx context.Context, chain *model.EscalationChain, trigger model.EscalationTrigger) (*model.EscalationExecution, error) {
	levels := sortedLevels(chain)
	if len(levels) == 0 {
		return nil, ErrNoLevels
	}

	start := chain.SkipLevelsFor(trigger.Priority)
	if start >= len(levels) {
		start = len(levels) - 1
	}

	now := r.clock.Now()
	exec := &model.EscalationExecution{
		ID:           uuid.New().String(),
		ChainID:      chain.ID,
		TicketID:     trigger.TicketID,
		AlertID:      trigger.AlertID,
		CurrentLevel: start,
		Status:       model.ExecutionActive,
		Metadata: model.ExecutionMetadata{
			TriggerReason: trigger.Reason,
			Priority:      trigger.Priority,
			Severity:      trigger.Severity,
			DeviceID:      trigger.DeviceID,
		},
		StartedAt: now,
	}

	r.mu.Lock()
	r.executions[exec.ID] = exec
	r.locks[exec.ID] = &sync.Mutex{}
	r.mu.Unlock()

	cmu := r.chainLock(chain.ID)
	cmu.Lock()
	chain.TotalEscalations++
	chain.LastEscalatedAt = &now
	cmu.Unlock()

	lock := r.executionLock(exec.ID)
	lock.Lock()
	r.assignLevel(ctx, exec, chain, "")
	if exec.Metadata.OriginalAssignee == "" && len(exec.LevelHistory) > 0 {
		exec.Metadata.OriginalAssignee = exec.LevelHistory[0].Assignee
	}
	if err := r.store.Store(ctx, exec); err != nil {
		r.logger.Error("Failed to persist execution",
			zap.String("execution_id", exec.ID),
			zap.Error(err))
	}
	startLevel := exec.CurrentLevel
	lock.Unlock()

	r.logger.Info("Escalation started",
		zap.String("execution_id", exec.ID),
		zap.String("chain_id", chain.ID),
		zap.String("ticket_id", trigger.TicketID),
		zap.Int("level", startLevel))

	return exec, nil
}

// Resolve marks the execution completed at its current level
func (r *Runner) Resolve(ctx context.Context, executionID, resolvedBy, notes string) error {
	exec, lock, err := r.lookup(executionID)
	if err != nil {
		return err
	}

	lock.Lock()
	defer lock.Unlock()

	if exec.Status.Terminal() {
		r.logger.Debug("Resolve on terminal execution ignored",
			zap.String("execution_id", executionID),
			zap.String("status", string(exec.Status)))
		return ErrExecutionTerminal
	}

	now := r.clock.Now()
	if rec := exec.CurrentRecord(); rec != nil {
		rec.Outcome = model.LevelResolved
		rec.CompletedAt = &now
	}
	exec.Status = model.ExecutionCompleted
	exec.CompletedAt = &now
	exec.ResolvedBy = resolvedBy
	exec.ResolutionNotes = notes

	r.cancelTimer(executionID)

	if chain, ok := r.chains.Chain(exec.ChainID); ok {
		cmu := r.chainLock(chain.ID)
		cmu.Lock()
		chain.SuccessfulEscalations++
		cmu.Unlock()
		r.appendHistory(ctx, chain, exec, "", resolvedBy, "resolved", true)
	}
	r.persist(ctx, exec)

	r.logger.Info("Escalation resolved",
		zap.String("execution_id", executionID),
		zap.String("resolved_by", resolvedBy),
		zap.Int("level", exec.CurrentLevel))

	return nil
}

// Fail marks the current level failed and advances the execution
func (r *Runner) Fail(ctx context.Context, executionID, reason string) error {
	exec, lock, err := r.lookup(executionID)
	if err != nil {
		return err
	}

	lock.Lock()
	defer lock.Unlock()

	if exec.Status.Terminal() {
		return ErrExecutionTerminal
	}

	chain, ok := r.chains.Chain(exec.ChainID)
	if !ok {
		return ErrExecutionNotFound
	}

	r.completeLevel(exec, model.LevelFailed)
	r.cancelTimer(executionID)
	r.advance(ctx, exec, chain, reason)
	r.persist(ctx, exec)
	return nil
}

// Cancel terminates the execution administratively
func (r *Runner) Cancel(ctx context.Context, executionID, reason string) error {
	exec, lock, err := r.lookup(executionID)
	if err != nil {
		return err
	}

	lock.Lock()
	defer lock.Unlock()

	if exec.Status.Terminal() {
		return ErrExecutionTerminal
	}

	now := r.clock.Now()
	if rec := exec.CurrentRecord(); rec != nil {
		rec.Outcome = model.LevelFailed
		rec.CompletedAt = &now
	}
	exec.Status = model.ExecutionCancelled
	exec.CompletedAt = &now
	exec.ResolutionNotes = reason

	r.cancelTimer(executionID)

	if chain, ok := r.chains.Chain(exec.ChainID); ok {
		r.appendHistory(ctx, chain, exec, "", "", "cancelled: "+reason, false)
	}
	r.persist(ctx, exec)

	r.logger.Info("Escalation cancelled",
		zap.String("execution_id", executionID),
		zap.String("reason", reason))

	return nil
}

// HandleTimeout processes an unanswered level. With auto-reassign the level
// is re-resolved and retried once; otherwise the execution advances.
func (r *Runner) HandleTimeout(ctx context.Context, executionID string) error {
	exec, lock, err := r.lookup(executionID)
	if err != nil {
		return err
	}

	lock.Lock()
	defer lock.Unlock()

	// A resolve or cancel may have won the race with the timer.
	if exec.Status.Terminal() {
		r.logger.Debug("Timeout on terminal execution ignored",
			zap.String("execution_id", executionID))
		return nil
	}

	chain, ok := r.chains.Chain(exec.ChainID)
	if !ok {
		return ErrExecutionNotFound
	}

	levels := sortedLevels(chain)
	if exec.CurrentLevel >= len(levels) {
		r.terminate(ctx, exec, chain, model.ExecutionFailed, "level out of range")
		return nil
	}
	level := levels[exec.CurrentLevel]

	prev := r.completeLevel(exec, model.LevelTimeout)

	if level.AutoReassign && attemptsAt(exec, exec.CurrentLevel) < 2 {
		r.logger.Info("Reassigning unanswered level",
			zap.String("execution_id", executionID),
			zap.Int("level", exec.CurrentLevel))
		r.assignLevel(ctx, exec, chain, prev)
		r.persist(ctx, exec)
		return nil
	}

	r.advance(ctx, exec, chain, "timeout")
	r.persist(ctx, exec)
	return nil
}

// CheckTimeouts sweeps active executions whose level wait has expired.
// Driven by the periodic checker; also catches timers lost to a restart.
func (r *Runner) CheckTimeouts(ctx context.Context) {
	now := r.clock.Now()

	r.mu.Lock()
	var due []string
	for id, exec := range r.executions {
		if exec.Status.Terminal() {
			continue
		}
		rec := exec.CurrentRecord()
		if rec == nil {
			continue
		}
		chain, ok := r.chains.Chain(exec.ChainID)
		if !ok {
			continue
		}
		levels := sortedLevels(chain)
		if exec.CurrentLevel >= len(levels) {
			continue
		}
		wait := time.Duration(levels[exec.CurrentLevel].WaitMinutes) * time.Minute
		if wait <= 0 {
			// A zero wait means the level never times out.
			continue
		}
		if !now.Before(rec.AssignedAt.Add(wait)) {
			due = append(due, id)
		}
	}
	r.mu.Unlock()

	for _, id := range due {
		if err := r.HandleTimeout(ctx, id); err != nil {
			r.logger.Error("Timeout handling failed",
				zap.String("execution_id", id),
				zap.Error(err))
		}
	}
}

// Resume reloads active executions from storage after a restart and
// re-arms their level timers from the persisted assignment times.
func (r *Runner) Resume(ctx context.Context) error {
	execs, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active executions: %w", err)
	}

	now := r.clock.Now()
	for _, exec := range execs {
		r.mu.Lock()
		r.executions[exec.ID] = exec
		r.locks[exec.ID] = &sync.Mutex{}
		r.mu.Unlock()

		chain, ok := r.chains.Chain(exec.ChainID)
		if !ok {
			r.logger.Warn("Resumed execution references unknown chain",
				zap.String("execution_id", exec.ID),
				zap.String("chain_id", exec.ChainID))
			continue
		}

		rec := exec.CurrentRecord()
		levels := sortedLevels(chain)
		if rec == nil || exec.CurrentLevel >= len(levels) {
			continue
		}

		wait := time.Duration(levels[exec.CurrentLevel].WaitMinutes) * time.Minute
		remaining := rec.AssignedAt.Add(wait).Sub(now)
		if wait > 0 && remaining > 0 {
			r.armTimer(exec.ID, remaining)
		}
		// Already-expired waits are picked up by the first CheckTimeouts pass.
	}

	r.logger.Info("Resumed active escalations", zap.Int("count", len(execs)))
	return nil
}

// Execution returns the in-memory execution by id
func (r *Runner) Execution(executionID string) (*model.EscalationExecution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.executions[executionID]
	return exec, ok
}

// Stop cancels all outstanding level timers
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
}

// assignLevel resolves an assignee for the execution's current level,
// records it, dispatches notifications and arms the wait timer. Levels whose
// trigger gate or resolution fails are skipped per skip_if_unavailable.
// Caller holds the execution lock.
func (r *Runner) assignLevel(ctx context.Context, exec *model.EscalationExecution, chain *model.EscalationChain, fromUser string) {
	levels := sortedLevels(chain)

	for exec.CurrentLevel < len(levels) {
		level := levels[exec.CurrentLevel]

		if !r.levelEligible(level, exec) {
			r.recordSkip(exec, "trigger condition not met")
			exec.CurrentLevel++
			continue
		}

		assignee, err := r.resolver.Resolve(&level, chain, assign.Context{
			Priority: exec.Metadata.Priority,
			Severity: exec.Metadata.Severity,
			Now:      r.clock.Now(),
		})
		if err != nil {
			if level.SkipIfUnavailable {
				r.logger.Warn("No assignee, skipping level",
					zap.String("execution_id", exec.ID),
					zap.Int("level", exec.CurrentLevel))
				r.recordSkip(exec, "no assignee available")
				r.appendHistory(ctx, chain, exec, fromUser, "", "skipped: no assignee", false)
				exec.CurrentLevel++
				continue
			}
			// Stall unassigned until the wait expires.
			r.logger.Warn("No assignee, level stalls until timeout",
				zap.String("execution_id", exec.ID),
				zap.Int("level", exec.CurrentLevel))
			assignee = ""
		}

		exec.LevelHistory = append(exec.LevelHistory, model.LevelRecord{
			Level:      exec.CurrentLevel,
			Assignee:   assignee,
			AssignedAt: r.clock.Now(),
		})

		if assignee != "" {
			r.appendHistory(ctx, chain, exec, fromUser, assignee, "assigned", true)
			r.dispatchLevelNotifications(ctx, exec, level, assignee)
		}

		if wait := time.Duration(level.WaitMinutes) * time.Minute; wait > 0 {
			r.armTimer(exec.ID, wait)
		}
		return
	}

	r.terminate(ctx, exec, chain, model.ExecutionFailed, "all levels exhausted")
}

// advance moves past the current level. Caller holds the execution lock.
func (r *Runner) advance(ctx context.Context, exec *model.EscalationExecution, chain *model.EscalationChain, reason string) {
	r.appendHistory(ctx, chain, exec, lastAssignee(exec), "", reason, false)
	exec.CurrentLevel++
	r.assignLevel(ctx, exec, chain, lastAssignee(exec))
}

// terminate applies a terminal status. Caller holds the execution lock.
func (r *Runner) terminate(ctx context.Context, exec *model.EscalationExecution, chain *model.EscalationChain, status model.ExecutionStatus, reason string) {
	now := r.clock.Now()
	exec.Status = status
	exec.CompletedAt = &now

	r.cancelTimer(exec.ID)
	r.appendHistory(ctx, chain, exec, "", "", reason, status == model.ExecutionCompleted)

	r.logger.Warn("Escalation ended without resolution",
		zap.String("execution_id", exec.ID),
		zap.String("status", string(status)),
		zap.String("reason", reason))
}

// completeLevel closes the open record at the current level and returns its
// assignee. Caller holds the execution lock.
func (r *Runner) completeLevel(exec *model.EscalationExecution, outcome model.LevelOutcome) string {
	rec := exec.CurrentRecord()
	if rec == nil {
		return ""
	}
	now := r.clock.Now()
	rec.Outcome = outcome
	rec.CompletedAt = &now
	return rec.Assignee
}

func (r *Runner) recordSkip(exec *model.EscalationExecution, reason string) {
	now := r.clock.Now()
	exec.LevelHistory = append(exec.LevelHistory, model.LevelRecord{
		Level:       exec.CurrentLevel,
		AssignedAt:  now,
		CompletedAt: &now,
		Outcome:     model.LevelSkipped,
	})
}

// levelEligible evaluates the level's trigger gate against the execution
func (r *Runner) levelEligible(level model.EscalationLevel, exec *model.EscalationExecution) bool {
	if level.Trigger == nil {
		return true
	}
	switch level.Trigger.Type {
	case model.TriggerSeverity:
		return string(exec.Metadata.Severity) == level.Trigger.Value
	case model.TriggerFailureCount, model.TriggerTimeElapsed, model.TriggerNoResponse:
		// These describe how the level is reached (timeout-driven advance),
		// which the runner already enforces.
		return true
	case model.TriggerCustom:
		r.logger.Debug("Custom level trigger treated as always eligible",
			zap.String("execution_id", exec.ID),
			zap.Int("level", level.Order))
		return true
	default:
		return true
	}
}

func (r *Runner) dispatchLevelNotifications(ctx context.Context, exec *model.EscalationExecution, level model.EscalationLevel, assignee string) {
	subject := fmt.Sprintf("Escalation level %d: ticket %s", exec.CurrentLevel, exec.TicketID)
	body := fmt.Sprintf("You have been assigned ticket %s (device %s). Reason: %s",
		exec.TicketID, exec.Metadata.DeviceID, exec.Metadata.TriggerReason)

	for _, channel := range level.NotificationChannels {
		if err := r.notifier.Notify(ctx, channel, []string{assignee}, subject, body, exec.Metadata.Severity); err != nil {
			// Dispatch failures never block traversal.
			exec.Metadata.DispatchFailures++
		}
	}
}

func (r *Runner) appendHistory(ctx context.Context, chain *model.EscalationChain, exec *model.EscalationExecution, fromUser, toUser, reason string, success bool) {
	entry := model.EscalationHistoryEntry{
		TicketID:  exec.TicketID,
		FromUser:  fromUser,
		ToUser:    toUser,
		Level:     exec.CurrentLevel,
		Reason:    reason,
		Timestamp: r.clock.Now(),
		Success:   success,
	}
	cmu := r.chainLock(chain.ID)
	cmu.Lock()
	chain.EscalationHistory = append(chain.EscalationHistory, entry)
	cmu.Unlock()

	if err := r.store.AppendHistory(ctx, chain.ID, entry); err != nil {
		r.logger.Error("Failed to persist history entry",
			zap.String("chain_id", chain.ID),
			zap.Error(err))
	}
}

func (r *Runner) persist(ctx context.Context, exec *model.EscalationExecution) {
	if err := r.store.Update(ctx, exec); err != nil {
		r.logger.Error("Failed to persist execution",
			zap.String("execution_id", exec.ID),
			zap.Error(err))
	}
}

func (r *Runner) lookup(executionID string) (*model.EscalationExecution, *sync.Mutex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.executions[executionID]
	if !ok {
		return nil, nil, ErrExecutionNotFound
	}
	return exec, r.locks[executionID], nil
}

func (r *Runner) executionLock(executionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locks[executionID]
}

// chainLock guards the mutable counters and history on a chain definition,
// which are shared by every execution of that chain.
func (r *Runner) chainLock(chainID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.chainLocks[chainID]
	if !ok {
		lock = &sync.Mutex{}
		r.chainLocks[chainID] = lock
	}
	return lock
}

func (r *Runner) armTimer(executionID string, wait time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.timers[executionID]; ok {
		timer.Stop()
	}
	r.timers[executionID] = time.AfterFunc(wait, func() {
		if err := r.HandleTimeout(context.Background(), executionID); err != nil {
			r.logger.Error("Timer-driven timeout failed",
				zap.String("execution_id", executionID),
				zap.Error(err))
		}
	})
}

func (r *Runner) cancelTimer(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.timers[executionID]; ok {
		timer.Stop()
		delete(r.timers, executionID)
	}
}

func sortedLevels(chain *model.EscalationChain) []model.EscalationLevel {
	levels := append([]model.EscalationLevel(nil), chain.Levels...)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Order < levels[j].Order })
	return levels
}

func attemptsAt(exec *model.EscalationExecution, level int) int {
	count := 0
	for _, rec := range exec.LevelHistory {
		if rec.Level == level && rec.Outcome != model.LevelSkipped {
			count++
		}
	}
	return count
}

func lastAssignee(exec *model.EscalationExecution) string {
	for i := len(exec.LevelHistory) - 1; i >= 0; i-- {
		if exec.LevelHistory[i].Assignee != "" {
			return exec.LevelHistory[i].Assignee
		}
	}
	return ""
}
