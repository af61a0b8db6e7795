package webhook

import (
	"context"

	"leadrelay/internal/delivery"
	"leadrelay/internal/leads/service"
	"leadrelay/internal/relay"
	"leadrelay/platform/logger"
	"leadrelay/platform/metrics"
)

// Event types, used for logs and metrics.
const (
	EventLead    = "lead"
	EventMessage = "message"
	EventStatus  = "status"
)

// LeadIngester creates pending leads from lead form ids. Satisfied by service.Service.
type LeadIngester interface {
	IngestLeadgen(ctx context.Context, leadgenID string) (service.IngestOutcome, error)
}

// StatusHandler reacts to delivery statuses. Satisfied by service.Service.
type StatusHandler interface {
	HandleDeliveryStatus(ctx context.Context, report delivery.StatusReport) (service.StatusOutcome, error)
}

// MessageRouter relays inbound messages. Satisfied by relay.Engine.
type MessageRouter interface {
	HandleMessage(ctx context.Context, msg relay.InboundMessage) (relay.Route, error)
}

// Result counts the units of work of one delivery.
type Result struct {
	Processed int
	Failed    int
}

// Service dispatches webhook deliveries to the lifecycle and relay engines.
type Service struct {
	leads    LeadIngester
	statuses StatusHandler
	messages MessageRouter
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewService creates a new webhook service.
func NewService(leads LeadIngester, statuses StatusHandler, messages MessageRouter, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		leads:    leads,
		statuses: statuses,
		messages: messages,
		metrics:  m,
		log:      log,
	}
}

// Process handles every unit of work in b. A failing unit is logged and never stops the others.
func (s *Service) Process(ctx context.Context, b Batch) Result {
	var res Result
	log := s.log.WithContext(ctx)

	for _, id := range b.LeadgenIDs {
		out, err := s.leads.IngestLeadgen(ctx, id)
		s.record(&res, EventLead, err)
		if err != nil {
			log.Error("lead ingestion failed", "leadgen_id", id, "error", err)
			continue
		}
		outcome := "created"
		if out.Duplicate {
			outcome = "duplicate"
		}
		log.WebhookEvent(EventLead, id, outcome)
	}

	for _, msg := range b.Messages {
		route, err := s.messages.HandleMessage(ctx, msg)
		s.record(&res, EventMessage, err)
		if err != nil {
			log.Error("inbound message failed", "message_id", msg.ID, "error", err)
			continue
		}
		log.WebhookEvent(EventMessage, msg.ID, string(route))
	}

	for _, report := range b.Statuses {
		outcome, err := s.statuses.HandleDeliveryStatus(ctx, report)
		s.record(&res, EventStatus, err)
		if err != nil {
			log.Error("delivery status failed", "message_id", report.MessageID, "status", report.Status, "error", err)
			continue
		}
		if outcome != service.StatusIgnored {
			log.WebhookEvent(EventStatus, report.MessageID, string(outcome))
		}
	}

	return res
}

func (s *Service) record(res *Result, eventType string, err error) {
	s.metrics.WebhookEvent(eventType, err)
	if err != nil {
		res.Failed++
		return
	}
	res.Processed++
}
