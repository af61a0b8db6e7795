package service

import (
	"context"
	"errors"
	"time"

	"leadrelay/internal/events"
	"leadrelay/internal/leads/domain"
	"leadrelay/platform/apperr"
	"leadrelay/platform/config"
	"leadrelay/platform/sanitize"
)

// NewLead is the input of Ingest.
type NewLead struct {
	Phone  string `validate:"required,phone"`
	Name   string `validate:"max=200"`
	Email  string `validate:"max=320"`
	LeadID string `validate:"max=64"`
}

// IngestOutcome describes what Ingest did.
type IngestOutcome struct {
	Phone     string
	Created   bool
	Duplicate bool
	WelcomeAt time.Time
}

// IngestLeadgen fetches a lead form submission and ingests it once per leadgen id.
func (s *Service) IngestLeadgen(ctx context.Context, leadgenID string) (IngestOutcome, error) {
	if leadgenID == "" {
		return IngestOutcome{}, apperr.Validation("missing lead id")
	}

	if s.dedup != nil {
		fresh, err := s.dedup.MarkSeen(ctx, leadgenSeenPrefix+leadgenID)
		if err != nil {
			return IngestOutcome{}, apperr.Wrap(apperr.KindInternal, "dedup lead", err)
		}
		if !fresh {
			return IngestOutcome{Duplicate: true}, nil
		}
	}

	lead, err := s.fetcher.FetchLead(ctx, leadgenID)
	if err != nil {
		return IngestOutcome{}, apperr.Upstream("fetch lead", err)
	}

	return s.Ingest(ctx, NewLead{
		Phone:  lead.Phone,
		Name:   lead.Name,
		Email:  lead.Email,
		LeadID: leadgenID,
	})
}

// Ingest stores a new pending lead, notifies the owner, and sends or schedules the welcome.
// A lead already pending for the same phone is left untouched.
func (s *Service) Ingest(ctx context.Context, in NewLead) (IngestOutcome, error) {
	if err := s.validator.Struct(in); err != nil {
		return IngestOutcome{}, apperr.Validation("invalid lead").WithDetails(err.Error())
	}
	phone := s.normalizer.Normalize(in.Phone)
	if phone == "" {
		return IngestOutcome{}, apperr.Validation("invalid phone")
	}
	log := s.logFor(ctx, phone)

	existing, err := s.repo.GetLead(ctx, phone)
	switch {
	case err == nil:
		log.Info("lead already pending", "lead_id", in.LeadID, "existing_lead_id", existing.LeadID)
		return IngestOutcome{Phone: phone, Duplicate: true, WelcomeAt: domain.FromMillis(existing.WelcomeAt)}, nil
	case errors.Is(err, domain.ErrCorruptRecord):
		log.Warn("replacing corrupt pending lead", "error", err)
	case !errors.Is(err, domain.ErrLeadNotFound):
		return IngestOutcome{}, apperr.Wrap(apperr.KindInternal, "load lead", err)
	}

	now := s.now()
	welcomeAt := now.Add(s.cfg.GetWelcomeDelay() + s.jitter(s.cfg.GetWelcomeJitter()))
	lead := domain.NewPendingLead(phone, sanitize.Line(in.Name), sanitize.Line(in.Email), in.LeadID, now, welcomeAt)

	if err := s.repo.SaveLead(ctx, lead); err != nil {
		return IngestOutcome{}, apperr.Wrap(apperr.KindInternal, "save lead", err)
	}
	if err := s.repo.SaveContact(ctx, phone, lead.Name, lead.Email); err != nil {
		log.Warn("contact cache write failed", "error", err)
	}
	counter, err := s.repo.IncrementCounter(ctx)
	if err != nil {
		log.Warn("lead counter update failed", "error", err)
	}
	log.Info("lead ingested", "lead_id", lead.LeadID, "welcome_at", welcomeAt, "counter", counter)

	s.notifyOwnerOfLead(ctx, lead)
	s.publish(ctx, events.LeadIngested{
		BaseEvent: events.NewBaseEvent(),
		Phone:     phone,
		Name:      lead.Name,
		Email:     lead.Email,
		LeadID:    lead.LeadID,
		Counter:   counter,
		WelcomeAt: welcomeAt,
	})

	outcome := IngestOutcome{Phone: phone, Created: true, WelcomeAt: welcomeAt}
	if !welcomeAt.After(now) {
		if err := s.DispatchWelcome(ctx, phone); err != nil {
			log.Error("immediate welcome failed", "error", err)
		}
		return outcome, nil
	}
	if s.scheduler != nil {
		if err := s.scheduler.ScheduleWelcome(ctx, phone, welcomeAt); err != nil {
			log.Warn("welcome not enqueued, sweep will send it", "error", err)
		}
	}
	return outcome, nil
}

// notifyOwnerOfLead tells the owner about a new lead. The message id becomes a relay
// mapping so the owner can answer the lead by replying to it.
func (s *Service) notifyOwnerOfLead(ctx context.Context, lead domain.PendingLead) {
	if s.owner == "" || s.owner == lead.Phone {
		return
	}
	log := s.logFor(ctx, lead.Phone)

	id, err := s.messenger.SendTemplate(ctx, s.owner, s.template(config.TemplateOwnerLead),
		templateParam(lead.Name), lead.Phone, templateParam(lead.Email))
	s.metrics.MessageSent(config.TemplateOwnerLead, err)
	if err != nil {
		log.Error("owner lead notification failed", "error", err)
		return
	}
	if s.relay == nil {
		return
	}
	if err := s.relay.SaveMapping(ctx, id, lead.Phone); err != nil {
		log.Warn("relay mapping for lead notification not saved", "message_id", id, "error", err)
	}
}
