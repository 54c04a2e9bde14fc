package sched

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/chain"
	"github.com/t77yq/escalation-engine/internal/storage"
)

// CheckerConfig holds the checker's cron schedules and retention policy
type CheckerConfig struct {
	TimeoutSweepSpec string        // cron spec for the level-timeout sweep
	CleanupSpec      string        // cron spec for execution cleanup
	Retention        time.Duration // how long finished executions are kept
}

// DefaultCheckerConfig returns the standard schedules: timeout sweeps every
// 30 seconds, cleanup nightly, 30 days of retention.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		TimeoutSweepSpec: "*/30 * * * * *",
		CleanupSpec:      "0 0 3 * * *",
		Retention:        30 * 24 * time.Hour,
	}
}

// Checker runs the engine's periodic maintenance on cron schedules:
// sweeping escalation levels whose wait expired and pruning old executions.
type Checker struct {
	logger *zap.Logger
	cron   *cron.Cron
	runner *chain.Runner
	store  storage.ExecutionStore
	config CheckerConfig
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewChecker creates the periodic checker
func NewChecker(runner *chain.Runner, store storage.ExecutionStore, config CheckerConfig, logger *zap.Logger) *Checker {
	cl := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cl)),
	}

	return &Checker{
		logger: logger.Named("checker"),
		cron:   cron.New(cronOptions...),
		runner: runner,
		store:  store,
		config: config,
	}
}

// Start registers the jobs and starts the cron scheduler
func (c *Checker) Start(ctx context.Context) error {
	if _, err := c.cron.AddFunc(c.config.TimeoutSweepSpec, func() {
		c.runner.CheckTimeouts(ctx)
	}); err != nil {
		return err
	}

	if _, err := c.cron.AddFunc(c.config.CleanupSpec, func() {
		cutoff := time.Now().Add(-c.config.Retention)
		if err := c.store.DeleteBefore(ctx, cutoff); err != nil {
			c.logger.Error("Execution cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	c.logger.Info("Periodic checker started",
		zap.String("timeout_sweep", c.config.TimeoutSweepSpec),
		zap.String("cleanup", c.config.CleanupSpec))
	return nil
}

// Stop stops the cron scheduler and waits for running jobs
func (c *Checker) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}
