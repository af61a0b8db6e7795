package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"leadrelay/internal/leads/domain"
	"leadrelay/platform/kv"
)

// TouchAnswered writes the answered marker with the contact time.
func (r *Repository) TouchAnswered(ctx context.Context, phone string, at time.Time) error {
	return r.store.Put(ctx, AnsweredKey(phone), []byte(strconv.FormatInt(domain.Millis(at), 10)), r.ttl)
}

// IsAnswered reports whether the lead has engaged.
func (r *Repository) IsAnswered(ctx context.Context, phone string) (bool, error) {
	return kv.Exists(ctx, r.store, AnsweredKey(phone))
}

// LastContact returns the time stored in the answered marker.
// A marker without a readable time is reported present with the zero time.
func (r *Repository) LastContact(ctx context.Context, phone string) (time.Time, bool, error) {
	data, err := r.store.Get(ctx, AnsweredKey(phone))
	if errors.Is(err, kv.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, true, nil
	}
	return domain.FromMillis(ms), true, nil
}

// SaveContact caches the display name and email of a phone.
func (r *Repository) SaveContact(ctx context.Context, phone, name, email string) error {
	if name = strings.TrimSpace(name); name != "" {
		if err := r.store.Put(ctx, namePrefix+phone, []byte(name), r.ttl); err != nil {
			return err
		}
	}
	if email = strings.TrimSpace(email); email != "" {
		if err := r.store.Put(ctx, emailPrefix+phone, []byte(email), r.ttl); err != nil {
			return err
		}
	}
	return nil
}

// ContactName returns the cached display name, or "" when unknown.
func (r *Repository) ContactName(ctx context.Context, phone string) (string, error) {
	data, err := r.store.Get(ctx, namePrefix+phone)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	return string(data), err
}

// IncrementCounter bumps the lead counter. Not atomic: the counter is informational.
func (r *Repository) IncrementCounter(ctx context.Context) (int64, error) {
	n, err := r.Counter(ctx)
	if err != nil {
		return 0, err
	}
	n++
	return n, r.store.Put(ctx, counterKey, []byte(strconv.FormatInt(n, 10)), 0)
}

// Counter returns the number of leads ingested so far.
func (r *Repository) Counter(ctx context.Context) (int64, error) {
	data, err := r.store.Get(ctx, counterKey)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		// unreadable counter restarts from zero
		return 0, nil
	}
	return n, nil
}
