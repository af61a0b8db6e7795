package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"leadrelay/internal/leads/domain"
	"leadrelay/internal/leads/repository"
	"leadrelay/platform/apperr"
)

// Dashboard actions.
const (
	ActionWelcome   = "welcome"
	ActionFollowup1 = "f1"
	ActionFollowup2 = "f2"
	ActionDelete    = "delete"
)

// ActionResult is returned to the dashboard.
type ActionResult struct {
	Message   string `json:"message"`
	MessageID string `json:"msgId,omitempty"`
}

// Action runs a manual dashboard operation. Sends ignore timing rules but not the sent flags.
func (s *Service) Action(ctx context.Context, action, rawPhone string) (ActionResult, error) {
	switch action {
	case ActionWelcome, ActionFollowup1, ActionFollowup2, ActionDelete:
	default:
		return ActionResult{}, apperr.BadRequest("invalid action")
	}

	phone := s.normalizer.Normalize(rawPhone)
	if phone == "" {
		return ActionResult{}, apperr.BadRequest("invalid phone")
	}

	lead, err := s.repo.GetLead(ctx, phone)
	switch {
	case errors.Is(err, domain.ErrLeadNotFound):
		return ActionResult{}, apperr.NotFound("lead not found")
	case errors.Is(err, domain.ErrCorruptRecord):
		return ActionResult{}, apperr.Wrap(apperr.KindInternal, "corrupt lead", err)
	case err != nil:
		return ActionResult{}, apperr.Wrap(apperr.KindInternal, "load lead", err)
	}

	log := s.logFor(ctx, phone)
	now := s.now()

	switch action {
	case ActionWelcome:
		if lead.SentFirst {
			return ActionResult{Message: "welcome already sent"}, nil
		}
		id, err := s.sendWelcome(ctx, &lead, now)
		if err != nil {
			return ActionResult{}, err
		}
		log.Info("manual welcome sent", "message_id", id)
		return ActionResult{Message: "welcome sent", MessageID: id}, nil

	case ActionFollowup1, ActionFollowup2:
		n := 1
		if action == ActionFollowup2 {
			n = 2
		}
		state, err := s.repo.GetFollowup(ctx, phone)
		if err != nil && !errors.Is(err, domain.ErrCorruptRecord) {
			return ActionResult{}, apperr.Wrap(apperr.KindInternal, "load follow-up state", err)
		}
		if state.Sent(n) {
			return ActionResult{Message: followupLabel(n) + " already sent"}, nil
		}
		id, err := s.sendFollowup(ctx, phone, &state, n, now)
		if err != nil {
			return ActionResult{}, err
		}
		log.Info("manual follow-up sent", "followup", n, "message_id", id)
		return ActionResult{Message: followupLabel(n) + " sent", MessageID: id}, nil

	default:
		if err := s.repo.DeleteLead(ctx, phone); err != nil {
			return ActionResult{}, apperr.Wrap(apperr.KindInternal, "delete lead", err)
		}
		log.Info("lead deleted from dashboard")
		return ActionResult{Message: "lead deleted"}, nil
	}
}

func followupLabel(n int) string {
	if n == 2 {
		return "follow-up 2"
	}
	return "follow-up 1"
}

// LeadView is one dashboard row.
type LeadView struct {
	domain.PendingLead
	Followup domain.FollowupState
	Stage    domain.Stage
	Answered bool
}

// Overview is the dashboard model.
type Overview struct {
	Leads       []LeadView
	Counter     int64
	GeneratedAt time.Time
}

// Overview lists pending leads newest first. Unreadable records are skipped.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	phones, err := s.repo.ListLeadPhones(ctx)
	if err != nil {
		return Overview{}, apperr.Wrap(apperr.KindInternal, "list leads", err)
	}

	now := s.now()
	views := make([]LeadView, 0, len(phones))
	for _, phone := range phones {
		lead, err := s.repo.GetLead(ctx, phone)
		if err != nil {
			if !errors.Is(err, domain.ErrLeadNotFound) {
				s.logFor(ctx, phone).Warn("skipping unreadable lead", "error", err)
			}
			continue
		}
		followup, err := s.repo.GetFollowup(ctx, phone)
		if err != nil {
			s.logFor(ctx, phone).StoreError("get_followup", repository.FollowupKey(phone), err)
		}
		answered, err := s.repo.IsAnswered(ctx, phone)
		if err != nil {
			s.logFor(ctx, phone).StoreError("is_answered", repository.AnsweredKey(phone), err)
		}
		views = append(views, LeadView{
			PendingLead: lead,
			Followup:    followup,
			Answered:    answered,
			Stage:       s.policy.StageOf(lead, followup, answered, now),
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Created > views[j].Created
	})

	counter, err := s.repo.Counter(ctx)
	if err != nil {
		s.log.Warn("lead counter unreadable", "error", err)
	}
	return Overview{Leads: views, Counter: counter, GeneratedAt: now}, nil
}
