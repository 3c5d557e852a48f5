package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/entitle/pkg/observability"
)

// Templates rendered by the mail relay
const (
	TemplateInvitation    = "organization-invitation"
	TemplateOwnerTransfer = "billing-owner-transfer"
)

// DefaultTimeout bounds every delivery attempt
const DefaultTimeout = 5 * time.Second

// Message is one email handed to the mail relay
type Message struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}

// Validate checks the fields the relay requires
func (m Message) Validate() error {
	if m.To == "" {
		return errors.New("message recipient is required")
	}
	if m.Template == "" {
		return errors.New("message template is required")
	}
	return nil
}

// Notifier delivers messages. Delivery is best-effort; callers log failures.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier logs messages instead of sending them
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a notifier for development
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the message
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	n.logger.WithFields(map[string]interface{}{
		"to":       msg.To,
		"subject":  msg.Subject,
		"template": msg.Template,
	}).Info("Notification (not delivered)")
	return nil
}

// Instrumented records delivery outcomes for any Notifier
type Instrumented struct {
	next    Notifier
	metrics *observability.Metrics
}

// WithMetrics wraps next so each Send is counted by template and result
func WithMetrics(next Notifier, metrics *observability.Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: metrics}
}

// Send delegates and records the result
func (n *Instrumented) Send(ctx context.Context, msg Message) error {
	err := n.next.Send(ctx, msg)
	n.metrics.RecordNotification(msg.Template, err)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Template, msg.To, err)
	}
	return nil
}
