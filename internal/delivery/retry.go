package delivery

import (
	"fmt"
	"math"
	"time"
)

// MaxRetries caps automated welcome resends per lead.
const MaxRetries = 3

// Reasons for not retrying.
const (
	ReasonPermanent   = "permanent_error"
	ReasonMaxAttempts = "max_retries_exceeded"
)

// backoff is indexed by the prior retry count.
var backoff = [MaxRetries]time.Duration{
	4 * time.Hour,
	24 * time.Hour,
	72 * time.Hour,
}

// RetryPlan is the decision produced by Strategy.
type RetryPlan struct {
	ShouldRetry   bool
	Delay         time.Duration
	NextRetryAt   time.Time
	NewRetryCount int
	Reason        string
}

// Strategy decides whether a failed welcome is resent, and when.
// Without a retry NewRetryCount stays at prior, so it never exceeds MaxRetries.
func Strategy(cls Classification, prior int, now time.Time) RetryPlan {
	if prior < 0 {
		prior = 0
	}
	if !cls.CanRetry {
		return RetryPlan{NewRetryCount: prior, Reason: ReasonPermanent}
	}
	if prior >= MaxRetries {
		return RetryPlan{NewRetryCount: prior, Reason: ReasonMaxAttempts}
	}

	delay := backoff[prior]
	return RetryPlan{
		ShouldRetry:   true,
		Delay:         delay,
		NextRetryAt:   now.Add(delay),
		NewRetryCount: prior + 1,
		Reason:        cls.Cause,
	}
}

// FormatOwnerMessage renders the failure text shown to the owner.
func FormatOwnerMessage(cls Classification, plan RetryPlan) string {
	msg := cls.Description
	if msg == "" {
		msg = "Unknown error"
	}
	if !plan.ShouldRetry {
		return msg
	}
	return fmt.Sprintf("%s (we will retry %s)", msg, timeframe(plan.Delay))
}

func timeframe(delay time.Duration) string {
	switch {
	case delay <= 5*time.Hour:
		return "in a few hours"
	case delay <= 25*time.Hour:
		return "tomorrow"
	default:
		days := int(math.Round(delay.Hours() / 24))
		return fmt.Sprintf("in %d days", days)
	}
}
