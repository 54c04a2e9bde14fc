package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
)

// Dispatcher sends one notification through a concrete transport
type Dispatcher interface {
	Notify(ctx context.Context, recipients []string, subject, body string, severity model.AlertSeverity) error
}

// Registry routes notifications to the dispatcher registered for a channel.
// Dispatch failures are logged and returned but callers treat them as
// non-fatal: a failed channel never blocks the rest of an escalation.
type Registry struct {
	logger   *zap.Logger
	channels map[string]Dispatcher
}

// NewRegistry creates an empty notification registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger.Named("notify"),
		channels: make(map[string]Dispatcher),
	}
}

// Register adds a dispatcher under a channel name
func (r *Registry) Register(channel string, d Dispatcher) {
	r.channels[channel] = d
}

// Notify sends through the named channel
func (r *Registry) Notify(ctx context.Context, channel string, recipients []string, subject, body string, severity model.AlertSeverity) error {
	d, ok := r.channels[channel]
	if !ok {
		return fmt.Errorf("unknown notification channel: %s", channel)
	}

	if err := d.Notify(ctx, recipients, subject, body, severity); err != nil {
		r.logger.Error("Notification dispatch failed",
			zap.String("channel", channel),
			zap.Int("recipients", len(recipients)),
			zap.Error(err))
		return err
	}

	r.logger.Info("Notification sent",
		zap.String("channel", channel),
		zap.Int("recipients", len(recipients)),
		zap.String("severity", string(severity)))
	return nil
}
