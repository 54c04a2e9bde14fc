package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
)

// EmailConfig holds SMTP settings for the email dispatcher
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailDispatcher sends notifications over SMTP
type EmailDispatcher struct {
	logger *zap.Logger
	config EmailConfig
}

// NewEmailDispatcher creates an SMTP-backed dispatcher
func NewEmailDispatcher(config EmailConfig, logger *zap.Logger) *EmailDispatcher {
	return &EmailDispatcher{
		logger: logger.Named("email"),
		config: config,
	}
}

// Notify sends one email to all recipients
func (d *EmailDispatcher) Notify(ctx context.Context, recipients []string, subject, body string, severity model.AlertSeverity) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}

	auth := smtp.PlainAuth("",
		d.config.Username,
		d.config.Password,
		d.config.Host)

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: [%s] %s\r\n"+
		"Content-Type: text/html; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n",
		d.config.From,
		recipients[0],
		severity,
		subject,
		body)

	addr := fmt.Sprintf("%s:%d", d.config.Host, d.config.Port)
	return smtp.SendMail(addr, auth, d.config.From, recipients, []byte(msg))
}
