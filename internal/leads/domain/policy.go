package domain

import "time"

// Action is the next lifecycle transition for a lead.
type Action string

const (
	ActionNone      Action = ""
	ActionAnswered  Action = "answered"
	ActionExpire    Action = "expire"
	ActionPurge     Action = "purge_failed"
	ActionWelcome   Action = "welcome"
	ActionRetry     Action = "retry_welcome"
	ActionFollowup1 Action = "followup1"
	ActionFollowup2 Action = "followup2"
	ActionRepair    Action = "repair_corrupt"
)

// Policy holds the timing rules of the lifecycle.
type Policy struct {
	Followup1After  time.Duration
	Followup2After  time.Duration
	HourStart       int
	HourEnd         int
	Location        *time.Location
	MaxAge          time.Duration
	FailedRetention time.Duration
}

// InSendWindow reports whether now falls in [HourStart, HourEnd) local time.
func (p Policy) InSendWindow(now time.Time) bool {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	h := now.In(loc).Hour()
	if p.HourStart <= p.HourEnd {
		return h >= p.HourStart && h < p.HourEnd
	}
	// window wraps midnight
	return h >= p.HourStart || h < p.HourEnd
}

// Next picks the single transition a sweep applies to a lead at now.
// Order matters: engagement and cleanup win over any send.
func (p Policy) Next(lead PendingLead, followup FollowupState, answered bool, now time.Time) Action {
	if answered {
		return ActionAnswered
	}
	if lead.Failed() {
		if now.Sub(FromMillis(lead.FailedAt)) >= p.FailedRetention {
			return ActionPurge
		}
		return ActionNone
	}
	if p.MaxAge > 0 && lead.Age(now) >= p.MaxAge {
		return ActionExpire
	}
	if !lead.SentFirst {
		if lead.WelcomeDue(now) {
			return ActionWelcome
		}
		return ActionNone
	}
	if lead.RetryPending() {
		if lead.RetryDue(now) {
			return ActionRetry
		}
		return ActionNone
	}
	if !p.InSendWindow(now) {
		return ActionNone
	}
	age := lead.Age(now)
	switch {
	case !followup.Sent1 && age >= p.Followup1After:
		return ActionFollowup1
	case followup.Sent1 && !followup.Sent2 && age >= p.Followup2After:
		return ActionFollowup2
	}
	return ActionNone
}
