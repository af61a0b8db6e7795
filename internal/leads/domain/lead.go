package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrLeadNotFound  = errors.New("lead not found")
	ErrCorruptRecord = errors.New("corrupt lead record")
	ErrInvalidPhone  = errors.New("invalid phone")
)

// MaxRetryCount mirrors the retry cap; records above it are corrupt.
const MaxRetryCount = 3

// PendingLead is the stored state of a lead that has not engaged yet.
// Timestamps are Unix milliseconds; zero means unset.
type PendingLead struct {
	Phone            string `json:"phone"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Created          int64  `json:"created"`
	WelcomeAt        int64  `json:"welcomeAt,omitempty"`
	SentFirst        bool   `json:"sentFirst"`
	WelcomeMessageID string `json:"benvenutoMsgId,omitempty"`
	SentFirstAt      int64  `json:"sentFirstAt,omitempty"`
	RetryCount       int    `json:"retryCount"`
	NextRetry        int64  `json:"nextRetry,omitempty"`
	FinalError       string `json:"erroreFinale,omitempty"`
	FailedAt         int64  `json:"failedAt,omitempty"`
	FailedMessageID  string `json:"failedMsgId,omitempty"`
	LeadID           string `json:"leadId,omitempty"`
}

// NewPendingLead creates a lead whose welcome becomes due at welcomeAt.
func NewPendingLead(phone, name, email, leadID string, now, welcomeAt time.Time) PendingLead {
	if welcomeAt.Before(now) {
		welcomeAt = now
	}
	return PendingLead{
		Phone:     phone,
		Name:      strings.TrimSpace(name),
		Email:     strings.TrimSpace(email),
		Created:   Millis(now),
		WelcomeAt: Millis(welcomeAt),
		LeadID:    leadID,
	}
}

// Validate rejects records that cannot have been written by this service.
func (l PendingLead) Validate() error {
	switch {
	case !strings.HasPrefix(l.Phone, "+"):
		return fmt.Errorf("%w: phone %q", ErrCorruptRecord, l.Phone)
	case l.Created <= 0:
		return fmt.Errorf("%w: missing created for %s", ErrCorruptRecord, l.Phone)
	case l.RetryCount < 0 || l.RetryCount > MaxRetryCount:
		return fmt.Errorf("%w: retryCount %d for %s", ErrCorruptRecord, l.RetryCount, l.Phone)
	}
	return nil
}

func (l PendingLead) CreatedAt() time.Time { return FromMillis(l.Created) }

// Age is the time elapsed since the lead was created.
func (l PendingLead) Age(now time.Time) time.Duration {
	return now.Sub(l.CreatedAt())
}

// Failed reports a permanent delivery failure; no automated send follows it.
func (l PendingLead) Failed() bool {
	return l.FinalError != ""
}

// WelcomeDue reports whether the first welcome should be sent now.
// Records written before welcomeAt existed fall back to created.
func (l PendingLead) WelcomeDue(now time.Time) bool {
	if l.SentFirst || l.Failed() {
		return false
	}
	due := l.WelcomeAt
	if due == 0 {
		due = l.Created
	}
	return Millis(now) >= due
}

// RetryPending reports a scheduled welcome resend.
func (l PendingLead) RetryPending() bool {
	return l.SentFirst && !l.Failed() && l.NextRetry > 0
}

// RetryDue reports whether a scheduled welcome resend is due now.
func (l PendingLead) RetryDue(now time.Time) bool {
	return l.RetryPending() && Millis(now) >= l.NextRetry
}

// MarkWelcomeSent records a welcome send and clears any scheduled resend.
func (l *PendingLead) MarkWelcomeSent(messageID string, now time.Time) {
	l.SentFirst = true
	l.WelcomeMessageID = messageID
	l.SentFirstAt = Millis(now)
	l.NextRetry = 0
}

// ScheduleRetry records the retry count and when the welcome is resent.
func (l *PendingLead) ScheduleRetry(count int, at time.Time) {
	l.RetryCount = count
	l.NextRetry = Millis(at)
}

// MarkFailed suppresses every further automated send.
func (l *PendingLead) MarkFailed(reason string, now time.Time) {
	if reason == "" {
		reason = "unknown"
	}
	l.FinalError = reason
	l.FailedAt = Millis(now)
	l.NextRetry = 0
}

// FollowupState tracks the two follow-up sends of a lead. Flags only go false to true.
type FollowupState struct {
	Sent1   bool  `json:"sent1"`
	Sent1At int64 `json:"sent1At,omitempty"`
	Sent2   bool  `json:"sent2"`
	Sent2At int64 `json:"sent2At,omitempty"`
}

// Sent reports whether follow-up n (1 or 2) went out.
func (f FollowupState) Sent(n int) bool {
	if n == 1 {
		return f.Sent1
	}
	return f.Sent2
}

// MarkSent sets follow-up n. Already-set flags keep their original timestamp.
func (f *FollowupState) MarkSent(n int, now time.Time) {
	switch n {
	case 1:
		if !f.Sent1 {
			f.Sent1, f.Sent1At = true, Millis(now)
		}
	case 2:
		if !f.Sent2 {
			f.Sent2, f.Sent2At = true, Millis(now)
		}
	}
}

// Millis converts t to Unix milliseconds; the zero time maps to 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
