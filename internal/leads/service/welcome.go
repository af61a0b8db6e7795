package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadrelay/internal/delivery"
	"leadrelay/internal/events"
	"leadrelay/internal/leads/domain"
	"leadrelay/internal/whatsapp"
	"leadrelay/platform/apperr"
	"leadrelay/platform/config"
)

// DispatchWelcome sends the welcome of phone if it is due and not sent yet.
// Safe to call any number of times: the sentFirst flag gates the send.
func (s *Service) DispatchWelcome(ctx context.Context, phone string) error {
	lead, err := s.repo.GetLead(ctx, phone)
	if errors.Is(err, domain.ErrLeadNotFound) {
		return nil
	}
	if errors.Is(err, domain.ErrCorruptRecord) {
		s.logFor(ctx, phone).Warn("deleting corrupt lead", "error", err)
		return s.repo.DeleteLead(ctx, phone)
	}
	if err != nil {
		return err
	}

	answered, err := s.repo.IsAnswered(ctx, phone)
	if err != nil {
		return err
	}
	if answered {
		s.logFor(ctx, phone).Info("lead answered before welcome, closing")
		return s.repo.DeleteLead(ctx, phone)
	}

	now := s.now()
	if !lead.WelcomeDue(now) {
		return nil
	}
	_, err = s.sendWelcome(ctx, &lead, now)
	return err
}

// sendWelcome sends the welcome template and persists the outcome. A synchronous
// send error still counts as sent and goes through the delivery-failure pipeline.
func (s *Service) sendWelcome(ctx context.Context, lead *domain.PendingLead, now time.Time) (string, error) {
	log := s.logFor(ctx, lead.Phone)

	id, sendErr := s.messenger.SendTemplate(ctx, lead.Phone, s.template(config.TemplateWelcome))
	s.metrics.MessageSent(config.TemplateWelcome, sendErr)
	lead.MarkWelcomeSent(id, now)

	if sendErr != nil {
		log.Warn("welcome send failed", "error", sendErr, "retry_count", lead.RetryCount)
		if err := s.applyFailure(ctx, lead, sendErrorReport(lead.Phone, sendErr), now); err != nil {
			return "", err
		}
		return "", apperr.Upstream("welcome send failed", sendErr)
	}

	if err := s.repo.SaveLead(ctx, *lead); err != nil {
		return id, fmt.Errorf("save welcomed lead: %w", err)
	}
	log.Info("welcome sent", "message_id", id, "retry_count", lead.RetryCount)
	return id, nil
}

// sendErrorReport turns a synchronous API error into a failed status report.
func sendErrorReport(phone string, err error) delivery.StatusReport {
	report := delivery.StatusReport{Status: delivery.StatusFailed, RecipientID: phone}
	var apiErr *whatsapp.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		report.Errors = []delivery.StatusError{{Code: apiErr.Code, Message: apiErr.Message}}
	}
	return report
}

// applyFailure classifies a failed welcome, schedules a resend or marks the lead failed,
// saves it, and tells the owner.
func (s *Service) applyFailure(ctx context.Context, lead *domain.PendingLead, report delivery.StatusReport, now time.Time) error {
	cls := delivery.Classify(&report)
	plan := delivery.Strategy(cls, lead.RetryCount, now)

	if plan.ShouldRetry {
		lead.ScheduleRetry(plan.NewRetryCount, plan.NextRetryAt)
	} else {
		lead.MarkFailed(fmt.Sprintf("%s (%s)", cls.Description, plan.Reason), now)
	}
	if report.MessageID != "" {
		lead.FailedMessageID = report.MessageID
	}
	if err := s.repo.SaveLead(ctx, *lead); err != nil {
		return fmt.Errorf("save failed lead: %w", err)
	}

	summary := delivery.FormatOwnerMessage(cls, plan)
	s.logFor(ctx, lead.Phone).Warn("welcome delivery failed",
		"cause", cls.Cause,
		"code", cls.Code,
		"retry", plan.ShouldRetry,
		"retry_count", lead.RetryCount,
		"reason", plan.Reason,
	)

	s.notifyOwnerOfFailure(ctx, *lead, summary)

	event := events.DeliveryFailed{
		BaseEvent:   events.NewBaseEvent(),
		Phone:       lead.Phone,
		Name:        lead.Name,
		MessageID:   report.MessageID,
		Cause:       cls.Cause,
		Description: cls.Description,
		Permanent:   !plan.ShouldRetry,
		RetryCount:  lead.RetryCount,
		Summary:     summary,
	}
	if plan.ShouldRetry {
		next := plan.NextRetryAt
		event.NextRetry = &next
	}
	s.publish(ctx, event)
	return nil
}

// notifyOwnerOfFailure only logs its own errors: a failing alert never raises another alert.
func (s *Service) notifyOwnerOfFailure(ctx context.Context, lead domain.PendingLead, summary string) {
	if s.owner == "" || s.owner == lead.Phone {
		return
	}
	_, err := s.messenger.SendTemplate(ctx, s.owner, s.template(config.TemplateOwnerAlert),
		templateParam(lead.Name), lead.Phone, templateParam(summary))
	s.metrics.MessageSent(config.TemplateOwnerAlert, err)
	if err != nil {
		s.logFor(ctx, lead.Phone).Error("owner failure alert not sent", "error", err)
	}
}
