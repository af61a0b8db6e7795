package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadrelay/internal/leads/domain"
	"leadrelay/platform/kv"
)

// Key prefixes of the lead records. Every key is built through the helpers below.
const (
	pendingPrefix  = "pending_lead:"
	followupPrefix = "lead_followup:"
	answeredPrefix = "lead:"
	namePrefix     = "name:"
	emailPrefix    = "email:"
	counterKey     = "lead_counter"
)

func PendingKey(phone string) string  { return pendingPrefix + phone }
func FollowupKey(phone string) string { return followupPrefix + phone }
func AnsweredKey(phone string) string { return answeredPrefix + phone }

// Repository stores lead records in the key-value store. Every write renews the record TTL.
type Repository struct {
	store kv.Store
	ttl   time.Duration
}

func New(store kv.Store, recordTTL time.Duration) *Repository {
	return &Repository{store: store, ttl: recordTTL}
}

func (r *Repository) GetLead(ctx context.Context, phone string) (domain.PendingLead, error) {
	var lead domain.PendingLead
	if err := kv.GetJSON(ctx, r.store, PendingKey(phone), &lead); err != nil {
		return domain.PendingLead{}, mapErr(err)
	}
	if err := lead.Validate(); err != nil {
		return domain.PendingLead{}, err
	}
	if lead.Phone != phone {
		return domain.PendingLead{}, fmt.Errorf("%w: key %s holds phone %s", domain.ErrCorruptRecord, phone, lead.Phone)
	}
	return lead, nil
}

func (r *Repository) SaveLead(ctx context.Context, lead domain.PendingLead) error {
	return kv.PutJSON(ctx, r.store, PendingKey(lead.Phone), lead, r.ttl)
}

// DeleteLead removes the lead and its follow-up state.
func (r *Repository) DeleteLead(ctx context.Context, phone string) error {
	if err := r.store.Delete(ctx, PendingKey(phone)); err != nil {
		return err
	}
	return r.store.Delete(ctx, FollowupKey(phone))
}

func (r *Repository) ListLeadPhones(ctx context.Context) ([]string, error) {
	return r.listSuffixes(ctx, pendingPrefix)
}

// GetFollowup returns the zero state when none was stored yet.
func (r *Repository) GetFollowup(ctx context.Context, phone string) (domain.FollowupState, error) {
	var state domain.FollowupState
	err := kv.GetJSON(ctx, r.store, FollowupKey(phone), &state)
	if errors.Is(err, kv.ErrNotFound) {
		return domain.FollowupState{}, nil
	}
	if err != nil {
		return domain.FollowupState{}, mapErr(err)
	}
	return state, nil
}

func (r *Repository) SaveFollowup(ctx context.Context, phone string, state domain.FollowupState) error {
	return kv.PutJSON(ctx, r.store, FollowupKey(phone), state, r.ttl)
}

func (r *Repository) ListFollowupPhones(ctx context.Context) ([]string, error) {
	return r.listSuffixes(ctx, followupPrefix)
}

func (r *Repository) DeleteFollowup(ctx context.Context, phone string) error {
	return r.store.Delete(ctx, FollowupKey(phone))
}

func (r *Repository) listSuffixes(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, strings.TrimPrefix(key, prefix))
	}
	return out, nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return domain.ErrLeadNotFound
	case errors.Is(err, kv.ErrCorrupt):
		return fmt.Errorf("%w: %v", domain.ErrCorruptRecord, err)
	default:
		return err
	}
}
