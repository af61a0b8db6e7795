package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadrelay/internal/leads/domain"
	"leadrelay/platform/apperr"
	"leadrelay/platform/config"
)

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Scanned  int
	Failed   int
	Orphans  int
	Actions  map[domain.Action]int
	Duration time.Duration
}

// Sweep applies at most one due transition to every pending lead.
// A failure on one lead is logged and never stops the pass.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	report := SweepReport{Actions: make(map[domain.Action]int)}

	phones, err := s.repo.ListLeadPhones(ctx)
	if err != nil {
		return report, fmt.Errorf("list pending leads: %w", err)
	}
	report.Scanned = len(phones)

	pending := make(map[string]struct{}, len(phones))
	for _, phone := range phones {
		pending[phone] = struct{}{}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		action, err := s.ProcessLead(ctx, phone)
		if err != nil {
			report.Failed++
			s.logFor(ctx, phone).Error("sweep lead failed", "action", action, "error", err)
			continue
		}
		if action != domain.ActionNone {
			report.Actions[action]++
		}
	}

	report.Orphans = s.dropOrphanFollowups(ctx, pending)
	report.Duration = time.Since(start)
	s.metrics.SweepCompleted(report.Duration)
	s.log.Info("sweep completed",
		"scanned", report.Scanned,
		"failed", report.Failed,
		"orphans", report.Orphans,
		"actions", len(report.Actions),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

// ProcessLead loads one lead and applies the transition its policy prescribes.
func (s *Service) ProcessLead(ctx context.Context, phone string) (domain.Action, error) {
	log := s.logFor(ctx, phone)

	lead, err := s.repo.GetLead(ctx, phone)
	if errors.Is(err, domain.ErrLeadNotFound) {
		return domain.ActionNone, nil
	}
	if errors.Is(err, domain.ErrCorruptRecord) {
		log.Warn("deleting corrupt lead", "error", err)
		s.metrics.SweepAction(string(domain.ActionRepair))
		return domain.ActionRepair, s.repo.DeleteLead(ctx, phone)
	}
	if err != nil {
		return domain.ActionNone, err
	}

	now := s.now()
	followup, err := s.repo.GetFollowup(ctx, phone)
	if errors.Is(err, domain.ErrCorruptRecord) {
		// unknown history: assume both follow-ups went out rather than risk a resend
		log.Warn("replacing corrupt follow-up state", "error", err)
		followup = domain.FollowupState{}
		followup.MarkSent(1, now)
		followup.MarkSent(2, now)
		if err := s.repo.SaveFollowup(ctx, phone, followup); err != nil {
			return domain.ActionNone, err
		}
	} else if err != nil {
		return domain.ActionNone, err
	}

	answered, err := s.repo.IsAnswered(ctx, phone)
	if err != nil {
		return domain.ActionNone, err
	}

	action := s.policy.Next(lead, followup, answered, now)
	switch action {
	case domain.ActionNone:
		return action, nil
	case domain.ActionAnswered, domain.ActionExpire, domain.ActionPurge:
		err = s.repo.DeleteLead(ctx, phone)
		if err == nil {
			log.Info("lead closed", "reason", action)
		}
	case domain.ActionWelcome, domain.ActionRetry:
		_, err = s.sendWelcome(ctx, &lead, now)
		if apperr.Is(err, apperr.KindUpstream) {
			// recorded through the failure pipeline
			err = nil
		}
	case domain.ActionFollowup1:
		_, err = s.sendFollowup(ctx, phone, &followup, 1, now)
	case domain.ActionFollowup2:
		_, err = s.sendFollowup(ctx, phone, &followup, 2, now)
	}

	s.metrics.SweepAction(string(action))
	return action, err
}

// sendFollowup sends follow-up n and sets its flag. The flag is only set after a send.
func (s *Service) sendFollowup(ctx context.Context, phone string, state *domain.FollowupState, n int, now time.Time) (string, error) {
	if state.Sent(n) {
		return "", nil
	}
	kind := config.TemplateFollowup1
	if n == 2 {
		kind = config.TemplateFollowup2
	}

	id, err := s.messenger.SendTemplate(ctx, phone, s.template(kind))
	s.metrics.MessageSent(kind, err)
	if err != nil {
		return "", apperr.Upstream(fmt.Sprintf("follow-up %d send failed", n), err)
	}

	state.MarkSent(n, now)
	if err := s.repo.SaveFollowup(ctx, phone, *state); err != nil {
		return id, fmt.Errorf("save follow-up state: %w", err)
	}
	s.logFor(ctx, phone).Info("follow-up sent", "followup", n, "message_id", id)
	return id, nil
}

func (s *Service) dropOrphanFollowups(ctx context.Context, pending map[string]struct{}) int {
	phones, err := s.repo.ListFollowupPhones(ctx)
	if err != nil {
		s.log.Warn("list follow-up state failed", "error", err)
		return 0
	}
	dropped := 0
	for _, phone := range phones {
		if _, ok := pending[phone]; ok {
			continue
		}
		// the lead may have been ingested during this pass
		if _, err := s.repo.GetLead(ctx, phone); !errors.Is(err, domain.ErrLeadNotFound) {
			continue
		}
		if err := s.repo.DeleteFollowup(ctx, phone); err != nil {
			s.logFor(ctx, phone).Warn("orphan follow-up not deleted", "error", err)
			continue
		}
		dropped++
	}
	return dropped
}
