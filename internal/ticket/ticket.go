package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
)

const createSubject = "ticket.create"

// Fields carries what the engine needs to open a ticket. The full ticket
// schema lives in the external ticketing system.
type Fields struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Severity    model.AlertSeverity `json:"severity"`
	Priority    string              `json:"priority,omitempty"`
	DeviceID    string              `json:"device_id,omitempty"`
	ThresholdID string              `json:"threshold_id,omitempty"`
	ClientID    string              `json:"client_id,omitempty"`
}

// Repository creates tickets on behalf of threshold actions
type Repository interface {
	Create(ctx context.Context, fields Fields) (string, error)
}

// JetStreamRepository publishes ticket creation events for the external
// ticketing system to pick up.
type JetStreamRepository struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewJetStreamRepository creates a JetStream-backed ticket repository
func NewJetStreamRepository(js nats.JetStreamContext, logger *zap.Logger) *JetStreamRepository {
	return &JetStreamRepository{
		logger: logger.Named("tickets"),
		js:     js,
	}
}

// Create assigns a ticket id and publishes the creation event
func (r *JetStreamRepository) Create(ctx context.Context, fields Fields) (string, error) {
	event := struct {
		TicketID  string    `json:"ticket_id"`
		Fields    Fields    `json:"fields"`
		CreatedAt time.Time `json:"created_at"`
	}{
		TicketID:  uuid.New().String(),
		Fields:    fields,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ticket event: %w", err)
	}

	if _, err := r.js.Publish(createSubject, data, nats.Context(ctx)); err != nil {
		return "", fmt.Errorf("failed to publish ticket event: %w", err)
	}

	r.logger.Info("Ticket created",
		zap.String("ticket_id", event.TicketID),
		zap.String("threshold_id", fields.ThresholdID),
		zap.String("severity", string(fields.Severity)))

	return event.TicketID, nil
}
