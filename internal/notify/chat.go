package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
)

// ChatDispatcher posts notifications to a chat webhook URL
type ChatDispatcher struct {
	logger     *zap.Logger
	webhookURL string
	client     *http.Client
}

// NewChatDispatcher creates a webhook-backed chat dispatcher
func NewChatDispatcher(webhookURL string, logger *zap.Logger) *ChatDispatcher {
	return &ChatDispatcher{
		logger:     logger.Named("chat"),
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify posts one message to the webhook
func (d *ChatDispatcher) Notify(ctx context.Context, recipients []string, subject, body string, severity model.AlertSeverity) error {
	payload := struct {
		Subject    string   `json:"subject"`
		Body       string   `json:"body"`
		Severity   string   `json:"severity"`
		Recipients []string `json:"recipients,omitempty"`
		SentAt     string   `json:"sent_at"`
	}{
		Subject:    subject,
		Body:       body,
		Severity:   string(severity),
		Recipients: recipients,
		SentAt:     time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
