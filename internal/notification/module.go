// Package notification emails the owner in response to lead domain events.
// The lifecycle engine publishes events and never talks to an email provider.
package notification

import (
	"context"
	"fmt"
	"strings"

	"leadrelay/internal/email"
	"leadrelay/internal/events"
	"leadrelay/platform/logger"
)

// Config is the subset of settings the module reads.
type Config interface {
	GetOwnerEmail() string
}

// Module handles notification-related events.
type Module struct {
	sender email.Sender
	to     string
	log    *logger.Logger
}

// New creates the notification module. Without an owner address every event is skipped.
func New(sender email.Sender, cfg Config, log *logger.Logger) *Module {
	if sender == nil {
		sender = email.NoopSender{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Module{
		sender: sender,
		to:     strings.TrimSpace(cfg.GetOwnerEmail()),
		log:    log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// RegisterHandlers subscribes the module to the events it handles.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.LeadIngested{}.EventName(), m)
	bus.Subscribe(events.DeliveryFailed{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	if m.to == "" {
		return nil
	}
	switch e := event.(type) {
	case events.LeadIngested:
		return m.handleLeadIngested(ctx, e)
	case events.DeliveryFailed:
		return m.handleDeliveryFailed(ctx, e)
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}

func (m *Module) handleLeadIngested(ctx context.Context, e events.LeadIngested) error {
	err := m.sender.SendLeadNotification(ctx, m.to, email.LeadNotification{
		Name:      e.Name,
		Phone:     e.Phone,
		Email:     e.Email,
		LeadID:    e.LeadID,
		Counter:   e.Counter,
		WelcomeAt: e.WelcomeAt,
	})
	if err != nil {
		m.log.Error("lead email failed", "phone", e.Phone, "error", err)
		return fmt.Errorf("lead email: %w", err)
	}
	m.log.Info("lead email sent", "phone", e.Phone)
	return nil
}

func (m *Module) handleDeliveryFailed(ctx context.Context, e events.DeliveryFailed) error {
	err := m.sender.SendDeliveryAlert(ctx, m.to, email.DeliveryAlert{
		Name:        e.Name,
		Phone:       e.Phone,
		Cause:       e.Cause,
		Description: e.Description,
		Summary:     e.Summary,
		Permanent:   e.Permanent,
		RetryCount:  e.RetryCount,
		NextRetry:   e.NextRetry,
	})
	if err != nil {
		m.log.Error("delivery alert email failed", "phone", e.Phone, "error", err)
		return fmt.Errorf("delivery alert email: %w", err)
	}
	m.log.Info("delivery alert email sent", "phone", e.Phone, "permanent", e.Permanent)
	return nil
}
