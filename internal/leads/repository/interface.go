package repository

import (
	"context"
	"time"

	"leadrelay/internal/leads/domain"
)

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// LeadReader provides read-only access to pending leads.
type LeadReader interface {
	GetLead(ctx context.Context, phone string) (domain.PendingLead, error)
	ListLeadPhones(ctx context.Context) ([]string, error)
}

// LeadWriter provides write operations on pending leads.
type LeadWriter interface {
	SaveLead(ctx context.Context, lead domain.PendingLead) error
	DeleteLead(ctx context.Context, phone string) error
}

// FollowupStore manages follow-up state.
type FollowupStore interface {
	GetFollowup(ctx context.Context, phone string) (domain.FollowupState, error)
	SaveFollowup(ctx context.Context, phone string, state domain.FollowupState) error
	ListFollowupPhones(ctx context.Context) ([]string, error)
	DeleteFollowup(ctx context.Context, phone string) error
}

// AnsweredStore manages the answered marker.
type AnsweredStore interface {
	TouchAnswered(ctx context.Context, phone string, at time.Time) error
	IsAnswered(ctx context.Context, phone string) (bool, error)
	LastContact(ctx context.Context, phone string) (time.Time, bool, error)
}

// ContactStore manages the best-effort caches.
type ContactStore interface {
	SaveContact(ctx context.Context, phone, name, email string) error
	ContactName(ctx context.Context, phone string) (string, error)
	IncrementCounter(ctx context.Context) (int64, error)
	Counter(ctx context.Context) (int64, error)
}

// LeadsRepository is everything the lifecycle engine needs.
type LeadsRepository interface {
	LeadReader
	LeadWriter
	FollowupStore
	AnsweredStore
	ContactStore
}

var _ LeadsRepository = (*Repository)(nil)
