// Package email delivers owner notifications by email, through an HTTP mail API or SMTP.
package email

import (
	"context"
	"time"

	"leadrelay/platform/config"
)

// LeadNotification describes a freshly ingested lead.
type LeadNotification struct {
	Name      string
	Phone     string
	Email     string
	LeadID    string
	Counter   int64
	WelcomeAt time.Time
}

// DeliveryAlert describes a failed welcome delivery.
type DeliveryAlert struct {
	Name        string
	Phone       string
	Cause       string
	Description string
	Summary     string
	Permanent   bool
	RetryCount  int
	NextRetry   *time.Time
}

type Sender interface {
	SendLeadNotification(ctx context.Context, toEmail string, n LeadNotification) error
	SendDeliveryAlert(ctx context.Context, toEmail string, a DeliveryAlert) error
}

type NoopSender struct{}

func (NoopSender) SendLeadNotification(ctx context.Context, toEmail string, n LeadNotification) error {
	return nil
}

func (NoopSender) SendDeliveryAlert(ctx context.Context, toEmail string, a DeliveryAlert) error {
	return nil
}

// NewSender picks the transport from configuration: SMTP when a host is set,
// the mail API otherwise, and a no-op sender when email is disabled.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}, nil
	}
	if cfg.GetSMTPHost() != "" {
		return NewSMTPSender(cfg.GetSMTPHost(), cfg.GetSMTPPort(), cfg.GetSMTPUsername(), cfg.GetSMTPPassword(),
			cfg.GetEmailFromAddress(), cfg.GetEmailFromName()), nil
	}
	sender, err := NewAPISender(cfg)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

type message struct {
	subject string
	html    string
	text    string
}

func leadMessage(n LeadNotification) (message, error) {
	html, err := renderEmailTemplate("lead_notification.html", leadEmailData{
		baseEmailData: baseEmailData{
			Title:   subjectNewLead,
			Heading: "New lead received",
		},
		Lead: n,
	})
	if err != nil {
		return message{}, err
	}
	return message{
		subject: subjectFor(subjectNewLeadFmt, n.Name, n.Phone),
		html:    html,
		text:    leadText(n),
	}, nil
}

func alertMessage(a DeliveryAlert) (message, error) {
	heading := "Welcome message not delivered"
	if a.Permanent {
		heading = "Welcome message permanently failed"
	}
	html, err := renderEmailTemplate("delivery_alert.html", alertEmailData{
		baseEmailData: baseEmailData{
			Title:   heading,
			Heading: heading,
		},
		Alert: a,
	})
	if err != nil {
		return message{}, err
	}
	return message{
		subject: subjectFor(subjectDeliveryAlertFmt, a.Name, a.Phone),
		html:    html,
		text:    alertText(a),
	}, nil
}
