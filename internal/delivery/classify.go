// Package delivery turns WhatsApp delivery-status reports into retry decisions.
// Everything here is pure: no I/O and no clock other than the one passed in.
package delivery

import (
	"strings"
	"time"
)

// Delivery status values reported by the messaging API.
const (
	StatusSent        = "sent"
	StatusDelivered   = "delivered"
	StatusRead        = "read"
	StatusFailed      = "failed"
	StatusUndelivered = "undelivered"
)

// Causes produced by Classify.
const (
	CauseBlockedNumber   = "blocked_number"
	CauseInvalidTemplate = "invalid_template"
	CauseRateLimit       = "rate_limit"
	CauseInvalidNumber   = "invalid_number"
	CauseAppRateLimit    = "app_rate_limit"
	CauseUndelivered     = "undelivered"
	CauseSendFailed      = "send_failed"
	CauseUnknown         = "unknown"
)

// StatusError is one entry of a status report's errors list.
type StatusError struct {
	Code    int
	Title   string
	Message string
	Details string
}

// StatusReport is a delivery-status event for one outbound message.
type StatusReport struct {
	MessageID   string
	Status      string
	RecipientID string
	Timestamp   time.Time
	Errors      []StatusError
}

// IsFailure reports whether the status describes a message that did not reach the user.
func (r StatusReport) IsFailure() bool {
	return r.Status == StatusFailed || r.Status == StatusUndelivered
}

// Classification is the outcome of Classify.
type Classification struct {
	Cause       string
	Description string
	CanRetry    bool
	IsUserError bool
	Code        int
}

var knownCodes = map[int]Classification{
	131047: {
		Cause:       CauseBlockedNumber,
		Description: "The number blocked the business or restricts messages from unknown senders",
		IsUserError: true,
	},
	131026: {
		Cause:       CauseInvalidTemplate,
		Description: "Template is invalid or its parameters are wrong",
	},
	131021: {
		Cause:       CauseRateLimit,
		Description: "Rate limit reached for this number",
		CanRetry:    true,
	},
	131054: {
		Cause:       CauseInvalidNumber,
		Description: "The number is invalid or has no WhatsApp account",
		IsUserError: true,
	},
	130429: {
		Cause:       CauseAppRateLimit,
		Description: "Application rate limit reached",
		CanRetry:    true,
	},
}

// permanentCodes are never retried, even when they reach the unknown-code branch.
var permanentCodes = map[int]bool{
	131047: true,
	131054: true,
}

// Classify maps a status report to a cause. It never fails: absent input is unknown and retryable.
func Classify(report *StatusReport) Classification {
	unknown := Classification{
		Cause:       CauseUnknown,
		Description: "Unknown error",
		CanRetry:    true,
	}
	if report == nil {
		return unknown
	}

	if len(report.Errors) > 0 {
		e := report.Errors[0]
		if known, ok := knownCodes[e.Code]; ok {
			known.Code = e.Code
			return known
		}
		unknown.Code = e.Code
		unknown.Description = describe(e)
		unknown.CanRetry = !permanentCodes[e.Code]
		return unknown
	}

	switch report.Status {
	case StatusUndelivered:
		return Classification{
			Cause:       CauseUndelivered,
			Description: "Message not delivered to the device (phone off or offline)",
			CanRetry:    true,
		}
	case StatusFailed:
		return Classification{
			Cause:       CauseSendFailed,
			Description: "Send failed with a generic error",
			CanRetry:    true,
		}
	}
	return unknown
}

func describe(e StatusError) string {
	title := strings.TrimSpace(e.Title)
	detail := strings.TrimSpace(e.Details)
	if detail == "" {
		detail = strings.TrimSpace(e.Message)
	}
	switch {
	case title != "" && detail != "" && detail != title:
		return title + ": " + detail
	case title != "":
		return title
	case detail != "":
		return detail
	default:
		return "Unknown error"
	}
}
