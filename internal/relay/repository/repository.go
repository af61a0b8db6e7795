// Package repository stores relay mappings and inbound dedup markers.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadrelay/platform/kv"
)

const (
	mappingPrefix = "relay:"
	seenPrefix    = "seen:"
	seenValue     = "1"
)

// ErrMappingNotFound means the owner replied to a message the relay no longer knows.
var ErrMappingNotFound = errors.New("relay mapping not found")

func MappingKey(outboundID string) string { return mappingPrefix + outboundID }
func SeenKey(inboundID string) string     { return seenPrefix + inboundID }

// Mapping links an owner notification to the user it is about.
type Mapping struct {
	UserPhone string `json:"userPhone"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

type Repository struct {
	store      kv.Store
	mappingTTL time.Duration
	seenTTL    time.Duration
}

func New(store kv.Store, mappingTTL, seenTTL time.Duration) *Repository {
	return &Repository{store: store, mappingTTL: mappingTTL, seenTTL: seenTTL}
}

// SaveMapping records that outboundID was sent to the owner about userPhone.
func (r *Repository) SaveMapping(ctx context.Context, outboundID, userPhone string) error {
	if outboundID == "" {
		return errors.New("empty outbound message id")
	}
	m := Mapping{UserPhone: userPhone, CreatedAt: time.Now().UnixMilli()}
	return kv.PutJSON(ctx, r.store, MappingKey(outboundID), m, r.mappingTTL)
}

// LookupMapping returns the user phone behind an owner notification.
// Plain-string values are accepted as the user phone.
func (r *Repository) LookupMapping(ctx context.Context, outboundID string) (string, error) {
	data, err := r.store.Get(ctx, MappingKey(outboundID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", ErrMappingNotFound
	}
	if err != nil {
		return "", err
	}

	var m Mapping
	if err := json.Unmarshal(data, &m); err == nil && m.UserPhone != "" {
		return m.UserPhone, nil
	}
	var phone string
	if err := json.Unmarshal(data, &phone); err == nil && phone != "" {
		return phone, nil
	}
	if s := string(data); len(s) > 0 && s[0] == '+' {
		return s, nil
	}
	return "", fmt.Errorf("%w: %s", kv.ErrCorrupt, MappingKey(outboundID))
}

// MarkSeen records an inbound id and reports whether it was new.
// Check and write are two calls; concurrent duplicates can both pass.
func (r *Repository) MarkSeen(ctx context.Context, inboundID string) (bool, error) {
	key := SeenKey(inboundID)
	seen, err := kv.Exists(ctx, r.store, key)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	if err := r.store.Put(ctx, key, []byte(seenValue), r.seenTTL); err != nil {
		return false, err
	}
	return true, nil
}
