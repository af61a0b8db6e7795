package domain

import "time"

// Stage is the display name of where a lead sits in its lifecycle.
type Stage string

const (
	StagePendingWelcome   Stage = "pending_welcome"
	StageWelcomed         Stage = "welcomed"
	StageRetryScheduled   Stage = "retry_scheduled"
	StageFollowup1Pending Stage = "followup1_pending"
	StageFollowup1Sent    Stage = "followup1_sent"
	StageFollowup2Pending Stage = "followup2_pending"
	StageFollowup2Sent    Stage = "followup2_sent"
	StageAnswered         Stage = "answered"
	StageExpired          Stage = "expired"
	StageFailed           Stage = "permanently_failed"
)

// StageOf derives the stage of a lead from its records.
func (p Policy) StageOf(lead PendingLead, followup FollowupState, answered bool, now time.Time) Stage {
	switch {
	case answered:
		return StageAnswered
	case lead.Failed():
		return StageFailed
	case p.MaxAge > 0 && lead.Age(now) >= p.MaxAge:
		return StageExpired
	case !lead.SentFirst:
		return StagePendingWelcome
	case lead.RetryPending():
		return StageRetryScheduled
	case followup.Sent2:
		return StageFollowup2Sent
	case followup.Sent1 && lead.Age(now) >= p.Followup2After:
		return StageFollowup2Pending
	case followup.Sent1:
		return StageFollowup1Sent
	case lead.Age(now) >= p.Followup1After:
		return StageFollowup1Pending
	default:
		return StageWelcomed
	}
}
