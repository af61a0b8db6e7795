package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leadrelay/internal/leads/domain"
	"leadrelay/platform/kv"
)

const testPhone = "+393331234567"

func TestLeadRoundTripUsesWireFieldNames(t *testing.T) {
	store := kv.NewMemoryStore()
	repo := New(store, time.Hour)
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	lead := domain.NewPendingLead(testPhone, "Mario", "m@example.com", "lg-1", now, now)
	lead.MarkWelcomeSent("wamid.1", now)
	if err := repo.SaveLead(ctx, lead); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := store.Get(ctx, "pending_lead:"+testPhone)
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	for _, field := range []string{`"benvenutoMsgId":"wamid.1"`, `"sentFirst":true`, `"created":1748858400000`} {
		if !strings.Contains(string(raw), field) {
			t.Fatalf("expected %s in %s", field, raw)
		}
	}

	got, err := repo.GetLead(ctx, testPhone)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != lead {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, lead)
	}
}

func TestGetLeadErrors(t *testing.T) {
	store := kv.NewMemoryStore()
	repo := New(store, time.Hour)
	ctx := context.Background()

	if _, err := repo.GetLead(ctx, testPhone); !errors.Is(err, domain.ErrLeadNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_ = store.Put(ctx, "pending_lead:"+testPhone, []byte("{broken"), 0)
	if _, err := repo.GetLead(ctx, testPhone); !errors.Is(err, domain.ErrCorruptRecord) {
		t.Fatalf("expected corrupt for bad json, got %v", err)
	}

	_ = store.Put(ctx, "pending_lead:"+testPhone, []byte(`{"phone":"+390000000000","created":1}`), 0)
	if _, err := repo.GetLead(ctx, testPhone); !errors.Is(err, domain.ErrCorruptRecord) {
		t.Fatalf("expected corrupt for mismatched phone, got %v", err)
	}
}

func TestDeleteLeadRemovesFollowup(t *testing.T) {
	repo := New(kv.NewMemoryStore(), time.Hour)
	ctx := context.Background()
	now := time.Now()

	_ = repo.SaveLead(ctx, domain.NewPendingLead(testPhone, "", "", "", now, now))
	_ = repo.SaveFollowup(ctx, testPhone, domain.FollowupState{Sent1: true})

	if err := repo.DeleteLead(ctx, testPhone); err != nil {
		t.Fatalf("delete: %v", err)
	}
	phones, _ := repo.ListFollowupPhones(ctx)
	if len(phones) != 0 {
		t.Fatalf("expected follow-up state gone, got %v", phones)
	}
	state, err := repo.GetFollowup(ctx, testPhone)
	if err != nil || state.Sent1 {
		t.Fatalf("expected zero state, got %+v err=%v", state, err)
	}
}

func TestContactsAndCounter(t *testing.T) {
	repo := New(kv.NewMemoryStore(), time.Hour)
	ctx := context.Background()
	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	if _, ok, _ := repo.LastContact(ctx, testPhone); ok {
		t.Fatal("expected no marker yet")
	}
	_ = repo.TouchAnswered(ctx, testPhone, at)
	last, ok, err := repo.LastContact(ctx, testPhone)
	if err != nil || !ok || !last.Equal(at) {
		t.Fatalf("unexpected marker %v %v %v", last, ok, err)
	}

	_ = repo.SaveContact(ctx, testPhone, " Mario ", "")
	if name, _ := repo.ContactName(ctx, testPhone); name != "Mario" {
		t.Fatalf("unexpected name %q", name)
	}

	for i := 1; i <= 3; i++ {
		n, err := repo.IncrementCounter(ctx)
		if err != nil || n != int64(i) {
			t.Fatalf("increment %d: got %d err=%v", i, n, err)
		}
	}
}
