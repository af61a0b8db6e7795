package service

import (
	"context"
	"errors"
	"strings"

	"leadrelay/internal/delivery"
	"leadrelay/internal/leads/domain"
)

// StatusOutcome describes how a delivery status was handled.
type StatusOutcome string

const (
	StatusIgnored      StatusOutcome = "ignored"
	StatusOwnerFailure StatusOutcome = "owner_failure"
	StatusUncorrelated StatusOutcome = "uncorrelated"
	StatusDuplicate    StatusOutcome = "duplicate"
	StatusRetry        StatusOutcome = "retry_scheduled"
	StatusPermanent    StatusOutcome = "permanent_failure"
)

// HandleDeliveryStatus reacts to a failed or undelivered welcome.
// Statuses for other messages, and for messages sent to the owner, change nothing.
func (s *Service) HandleDeliveryStatus(ctx context.Context, report delivery.StatusReport) (StatusOutcome, error) {
	if !report.IsFailure() {
		return StatusIgnored, nil
	}

	recipient := s.recipientPhone(report.RecipientID)
	if recipient != "" && recipient == s.owner {
		// owner notifications never trigger further notifications
		s.log.WithContext(ctx).Error("message to owner failed",
			"message_id", report.MessageID,
			"cause", delivery.Classify(&report).Cause,
		)
		return StatusOwnerFailure, nil
	}

	lead, ok, err := s.findLeadByWelcome(ctx, recipient, report.MessageID)
	if err != nil {
		return "", err
	}
	if !ok {
		return StatusUncorrelated, nil
	}
	if lead.Failed() || lead.FailedMessageID == report.MessageID {
		return StatusDuplicate, nil
	}

	if err := s.applyFailure(ctx, &lead, report, s.now()); err != nil {
		return "", err
	}
	if lead.Failed() {
		return StatusPermanent, nil
	}
	return StatusRetry, nil
}

func (s *Service) recipientPhone(recipientID string) string {
	digits := strings.TrimPrefix(strings.TrimSpace(recipientID), "+")
	if digits == "" {
		return ""
	}
	return s.normalizer.Normalize("+" + digits)
}

// findLeadByWelcome locates the lead whose recorded welcome id is messageID,
// trying the recipient's record before scanning all pending leads.
func (s *Service) findLeadByWelcome(ctx context.Context, recipient, messageID string) (domain.PendingLead, bool, error) {
	if messageID == "" {
		return domain.PendingLead{}, false, nil
	}

	if recipient != "" {
		lead, err := s.repo.GetLead(ctx, recipient)
		switch {
		case err == nil:
			if lead.WelcomeMessageID == messageID || lead.FailedMessageID == messageID {
				return lead, true, nil
			}
		case !errors.Is(err, domain.ErrLeadNotFound) && !errors.Is(err, domain.ErrCorruptRecord):
			return domain.PendingLead{}, false, err
		}
	}

	phones, err := s.repo.ListLeadPhones(ctx)
	if err != nil {
		return domain.PendingLead{}, false, err
	}
	for _, phone := range phones {
		if phone == recipient {
			continue
		}
		lead, err := s.repo.GetLead(ctx, phone)
		if err != nil {
			continue
		}
		if lead.WelcomeMessageID == messageID || lead.FailedMessageID == messageID {
			return lead, true, nil
		}
	}
	return domain.PendingLead{}, false, nil
}
