// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"leadrelay/platform/events"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Leads Domain Events
// =============================================================================

// LeadIngested is published once a new lead has been stored.
type LeadIngested struct {
	BaseEvent
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	LeadID    string    `json:"leadId"`
	Counter   int64     `json:"counter"`
	WelcomeAt time.Time `json:"welcomeAt"`
}

func (e LeadIngested) EventName() string { return "leads.lead.ingested" }

// DeliveryFailed is published when a welcome message is reported failed or undelivered.
type DeliveryFailed struct {
	BaseEvent
	Phone       string     `json:"phone"`
	Name        string     `json:"name"`
	MessageID   string     `json:"messageId"`
	Cause       string     `json:"cause"`
	Description string     `json:"description"`
	Permanent   bool       `json:"permanent"`
	RetryCount  int        `json:"retryCount"`
	NextRetry   *time.Time `json:"nextRetry,omitempty"`
	Summary     string     `json:"summary"`
}

func (e DeliveryFailed) EventName() string { return "leads.delivery.failed" }
