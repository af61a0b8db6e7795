package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"leadrelay/internal/delivery"
	"leadrelay/internal/leadads"
	"leadrelay/internal/leads/domain"
	"leadrelay/internal/leads/repository"
	"leadrelay/internal/whatsapp"
	"leadrelay/platform/apperr"
	"leadrelay/platform/config"
	"leadrelay/platform/kv"
	"leadrelay/platform/logger"
)

const (
	ownerPhone = "+393470000001"
	leadPhone  = "+393331234567"
)

var t0 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type sentMessage struct {
	To       string
	Template string
	Params   []string
	ID       string
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sentMessage
	seq     int
	failFor map[string]error
}

func (m *fakeMessenger) SendTemplate(_ context.Context, to string, spec config.TemplateSpec, params ...string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[spec.Name]; err != nil {
		return "", err
	}
	m.seq++
	id := fmt.Sprintf("wamid.%d", m.seq)
	m.sent = append(m.sent, sentMessage{To: to, Template: spec.Name, Params: params, ID: id})
	return id, nil
}

func (m *fakeMessenger) count(template string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.Template == template {
			n++
		}
	}
	return n
}

func (m *fakeMessenger) last(template string) sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Template == template {
			return m.sent[i]
		}
	}
	return sentMessage{}
}

type fakeRelay struct {
	mappings map[string]string
}

func (r *fakeRelay) SaveMapping(_ context.Context, outboundID, userPhone string) error {
	r.mappings[outboundID] = userPhone
	return nil
}

type fakeDedup struct {
	seen map[string]bool
}

func (d *fakeDedup) MarkSeen(_ context.Context, id string) (bool, error) {
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

type fakeFetcher struct {
	calls int
	lead  leadads.Lead
}

func (f *fakeFetcher) FetchLead(_ context.Context, id string) (leadads.Lead, error) {
	f.calls++
	lead := f.lead
	lead.ID = id
	return lead, nil
}

type fakeScheduler struct {
	scheduled map[string]time.Time
}

func (s *fakeScheduler) ScheduleWelcome(_ context.Context, phone string, at time.Time) error {
	s.scheduled[phone] = at
	return nil
}

type harness struct {
	svc     *Service
	repo    *repository.Repository
	store   *kv.MemoryStore
	msgr    *fakeMessenger
	clock   *testClock
	relay   *fakeRelay
	sched   *fakeScheduler
	fetcher *fakeFetcher
}

func testConfig() *config.Config {
	templates := make(map[string]config.TemplateSpec)
	for _, kind := range []string{
		config.TemplateWelcome, config.TemplateFollowup1, config.TemplateFollowup2,
		config.TemplateOwnerLead, config.TemplateOwnerAlert,
	} {
		templates[kind] = config.TemplateSpec{Name: kind, Language: "it"}
	}
	return &config.Config{
		OwnerPhone:          ownerPhone,
		DefaultCountryCode:  "39",
		MobilePrefixes:      "3",
		Templates:           templates,
		Followup1After:      24 * time.Hour,
		Followup2After:      72 * time.Hour,
		FollowupHourStart:   9,
		FollowupHourEnd:     20,
		Location:            time.UTC,
		LeadMaxAge:          7 * 24 * time.Hour,
		FailedLeadRetention: 24 * time.Hour,
		RecordTTL:           30 * 24 * time.Hour,
	}
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	clock := &testClock{now: t0}
	store := kv.NewMemoryStore(kv.WithClock(clock.Now))
	repo := repository.New(store, cfg.RecordTTL)
	h := &harness{
		repo:    repo,
		store:   store,
		msgr:    &fakeMessenger{failFor: map[string]error{}},
		clock:   clock,
		relay:   &fakeRelay{mappings: map[string]string{}},
		sched:   &fakeScheduler{scheduled: map[string]time.Time{}},
		fetcher: &fakeFetcher{lead: leadads.Lead{Name: "Mario Rossi", Phone: "333 123 4567", Email: "mario@example.com"}},
	}
	h.svc = New(Deps{
		Repo:      repo,
		Messenger: h.msgr,
		Fetcher:   h.fetcher,
		Relay:     h.relay,
		Dedup:     &fakeDedup{seen: map[string]bool{}},
		Scheduler: h.sched,
		Config:    cfg,
		Now:       clock.Now,
		Jitter:    func(time.Duration) time.Duration { return 0 },
	})
	return h
}

func (h *harness) ingest(t *testing.T) {
	t.Helper()
	out, err := h.svc.Ingest(context.Background(), NewLead{Phone: "333 123 4567", Name: "Mario", LeadID: "lg-1"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !out.Created || out.Phone != leadPhone {
		t.Fatalf("unexpected ingest outcome %+v", out)
	}
}

func (h *harness) sweepAt(t *testing.T, at time.Time) SweepReport {
	t.Helper()
	h.clock.Set(at)
	report, err := h.svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	return report
}

func (h *harness) lead(t *testing.T) domain.PendingLead {
	t.Helper()
	lead, err := h.repo.GetLead(context.Background(), leadPhone)
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	return lead
}

func failedStatus(messageID string, codes ...int) delivery.StatusReport {
	report := delivery.StatusReport{MessageID: messageID, Status: delivery.StatusFailed, RecipientID: "393331234567"}
	for _, c := range codes {
		report.Errors = append(report.Errors, delivery.StatusError{Code: c})
	}
	return report
}

func TestImmediateWelcomeIsSentOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)

	if got := h.msgr.count(config.TemplateWelcome); got != 1 {
		t.Fatalf("expected 1 welcome after ingest, got %d", got)
	}
	owner := h.msgr.last(config.TemplateOwnerLead)
	if owner.To != ownerPhone || owner.Params[1] != leadPhone {
		t.Fatalf("unexpected owner notification %+v", owner)
	}
	if h.relay.mappings[owner.ID] != leadPhone {
		t.Fatal("expected owner notification to create a relay mapping")
	}

	for i := 0; i < 3; i++ {
		h.sweepAt(t, t0.Add(time.Duration(i+1)*5*time.Minute))
	}
	if err := h.svc.DispatchWelcome(context.Background(), leadPhone); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := h.msgr.count(config.TemplateWelcome); got != 1 {
		t.Fatalf("expected welcome to stay at 1, got %d", got)
	}

	lead := h.lead(t)
	if !lead.SentFirst || lead.WelcomeMessageID == "" || lead.SentFirstAt != domain.Millis(t0) {
		t.Fatalf("unexpected lead %+v", lead)
	}

	dup, err := h.svc.Ingest(context.Background(), NewLead{Phone: "+39 333 123 4567", Name: "Mario"})
	if err != nil || !dup.Duplicate {
		t.Fatalf("expected duplicate ingest, got %+v %v", dup, err)
	}
	if got := h.msgr.count(config.TemplateOwnerLead); got != 1 {
		t.Fatalf("duplicate ingest notified owner again")
	}
}

func TestDelayedWelcomeIsScheduledAndSentWhenDue(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.WelcomeDelay = 30 * time.Minute })
	h.ingest(t)

	if at, ok := h.sched.scheduled[leadPhone]; !ok || !at.Equal(t0.Add(30*time.Minute)) {
		t.Fatalf("expected welcome scheduled at +30m, got %v %v", at, ok)
	}
	if got := h.msgr.count(config.TemplateWelcome); got != 0 {
		t.Fatalf("welcome sent before due time")
	}

	h.sweepAt(t, t0.Add(10*time.Minute))
	if got := h.msgr.count(config.TemplateWelcome); got != 0 {
		t.Fatalf("sweep sent welcome before due time")
	}

	h.clock.Set(t0.Add(31 * time.Minute))
	if err := h.svc.DispatchWelcome(context.Background(), leadPhone); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	h.sweepAt(t, t0.Add(35*time.Minute))
	if got := h.msgr.count(config.TemplateWelcome); got != 1 {
		t.Fatalf("expected exactly one welcome, got %d", got)
	}
}

func TestAnsweredLeadIsClosedWithoutFollowups(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)
	ctx := context.Background()

	_ = h.repo.SaveFollowup(ctx, leadPhone, domain.FollowupState{})
	if err := h.repo.TouchAnswered(ctx, leadPhone, t0.Add(time.Hour)); err != nil {
		t.Fatalf("touch: %v", err)
	}

	report := h.sweepAt(t, t0.Add(2*time.Hour))
	if report.Actions[domain.ActionAnswered] != 1 {
		t.Fatalf("expected answered action, got %+v", report.Actions)
	}
	if _, err := h.repo.GetLead(ctx, leadPhone); !errors.Is(err, domain.ErrLeadNotFound) {
		t.Fatalf("expected lead deleted, got %v", err)
	}
	if ok, _ := kv.Exists(ctx, h.store, repository.FollowupKey(leadPhone)); ok {
		t.Fatal("expected follow-up state deleted")
	}

	h.sweepAt(t, t0.Add(25*time.Hour))
	if h.msgr.count(config.TemplateFollowup1)+h.msgr.count(config.TemplateFollowup2) != 0 {
		t.Fatal("answered lead received a follow-up")
	}
}

func TestFollowupTiming(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)

	h.sweepAt(t, t0.Add(23*time.Hour))
	if got := h.msgr.count(config.TemplateFollowup1); got != 0 {
		t.Fatalf("follow-up 1 sent at +23h")
	}

	h.sweepAt(t, t0.Add(25*time.Hour))
	if got := h.msgr.count(config.TemplateFollowup1); got != 1 {
		t.Fatalf("expected follow-up 1 at +25h, got %d", got)
	}

	h.sweepAt(t, t0.Add(25*time.Hour+10*time.Minute))
	if got := h.msgr.count(config.TemplateFollowup1); got != 1 {
		t.Fatalf("follow-up 1 resent, got %d", got)
	}

	state, _ := h.repo.GetFollowup(context.Background(), leadPhone)
	if !state.Sent1 || state.Sent1At != domain.Millis(t0.Add(25*time.Hour)) || state.Sent2 {
		t.Fatalf("unexpected follow-up state %+v", state)
	}

	// 10:00 + 84h is 22:00, outside the send window
	h.sweepAt(t, t0.Add(84*time.Hour))
	if got := h.msgr.count(config.TemplateFollowup2); got != 0 {
		t.Fatalf("follow-up 2 sent outside the window")
	}
	h.sweepAt(t, t0.Add(96*time.Hour))
	if got := h.msgr.count(config.TemplateFollowup2); got != 1 {
		t.Fatalf("expected follow-up 2, got %d", got)
	}
}

func TestDeliveryFailureSchedulesRetryAndResends(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)
	ctx := context.Background()
	firstID := h.lead(t).WelcomeMessageID

	h.clock.Set(t0.Add(time.Minute))
	outcome, err := h.svc.HandleDeliveryStatus(ctx, delivery.StatusReport{
		MessageID: firstID, Status: delivery.StatusUndelivered, RecipientID: "393331234567",
	})
	if err != nil || outcome != StatusRetry {
		t.Fatalf("expected retry, got %q %v", outcome, err)
	}
	lead := h.lead(t)
	if lead.RetryCount != 1 || lead.NextRetry != domain.Millis(t0.Add(time.Minute+4*time.Hour)) {
		t.Fatalf("unexpected retry schedule %+v", lead)
	}
	alert := h.msgr.last(config.TemplateOwnerAlert)
	if alert.To != ownerPhone || alert.Params[2] != "Message not delivered to the device (phone off or offline) (we will retry in a few hours)" {
		t.Fatalf("unexpected owner alert %+v", alert)
	}

	again, _ := h.svc.HandleDeliveryStatus(ctx, delivery.StatusReport{
		MessageID: firstID, Status: delivery.StatusUndelivered, RecipientID: "393331234567",
	})
	if again != StatusDuplicate {
		t.Fatalf("expected duplicate status to be ignored, got %q", again)
	}

	h.sweepAt(t, t0.Add(2*time.Hour))
	if got := h.msgr.count(config.TemplateWelcome); got != 1 {
		t.Fatalf("resent before retry time")
	}
	h.sweepAt(t, t0.Add(4*time.Hour+2*time.Minute))
	if got := h.msgr.count(config.TemplateWelcome); got != 2 {
		t.Fatalf("expected resend, got %d welcomes", got)
	}
	lead = h.lead(t)
	if lead.NextRetry != 0 || lead.RetryCount != 1 || lead.WelcomeMessageID == firstID {
		t.Fatalf("unexpected lead after resend %+v", lead)
	}
}

func TestRetryCountIsCapped(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)
	ctx := context.Background()

	now := t0
	for i := 0; i < 4; i++ {
		now = now.Add(time.Minute)
		h.clock.Set(now)
		id := h.lead(t).WelcomeMessageID
		if _, err := h.svc.HandleDeliveryStatus(ctx, failedStatus(id)); err != nil {
			t.Fatalf("status %d: %v", i, err)
		}
		lead := h.lead(t)
		if lead.RetryCount > delivery.MaxRetries {
			t.Fatalf("retry count %d exceeds cap", lead.RetryCount)
		}
		if lead.Failed() {
			break
		}
		now = domain.FromMillis(lead.NextRetry)
		h.sweepAt(t, now)
	}

	lead := h.lead(t)
	if !lead.Failed() || lead.RetryCount != delivery.MaxRetries {
		t.Fatalf("expected permanent failure after %d retries, got %+v", delivery.MaxRetries, lead)
	}
	if got := h.msgr.count(config.TemplateWelcome); got != 1+delivery.MaxRetries {
		t.Fatalf("expected %d welcome sends, got %d", 1+delivery.MaxRetries, got)
	}
}

func TestPermanentFailureSuppressesSendsUntilPurged(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)
	ctx := context.Background()

	outcome, err := h.svc.HandleDeliveryStatus(ctx, failedStatus(h.lead(t).WelcomeMessageID, 131047))
	if err != nil || outcome != StatusPermanent {
		t.Fatalf("expected permanent failure, got %q %v", outcome, err)
	}
	if lead := h.lead(t); !lead.Failed() || lead.NextRetry != 0 {
		t.Fatalf("unexpected lead %+v", lead)
	}

	h.sweepAt(t, t0.Add(23*time.Hour))
	if h.msgr.count(config.TemplateFollowup1) != 0 || h.msgr.count(config.TemplateWelcome) != 1 {
		t.Fatal("failed lead received automated messages")
	}

	report := h.sweepAt(t, t0.Add(25*time.Hour))
	if report.Actions[domain.ActionPurge] != 1 {
		t.Fatalf("expected purge, got %+v", report.Actions)
	}
}

func TestSynchronousSendErrorGoesThroughFailurePipeline(t *testing.T) {
	h := newHarness(t, nil)
	h.msgr.failFor[config.TemplateWelcome] = &whatsapp.APIError{Status: 400, Code: 131026, Message: "template"}
	h.ingest(t)

	lead := h.lead(t)
	if !lead.SentFirst || !lead.Failed() {
		t.Fatalf("expected sentFirst with permanent failure, got %+v", lead)
	}
	if h.msgr.count(config.TemplateOwnerAlert) != 1 {
		t.Fatal("expected owner alert for failed welcome")
	}
}

func TestOwnerStatusFailureDoesNotNotify(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)
	before := len(h.msgr.sent)

	outcome, err := h.svc.HandleDeliveryStatus(context.Background(), delivery.StatusReport{
		MessageID: "wamid.owner", Status: delivery.StatusFailed, RecipientID: "393470000001",
	})
	if err != nil || outcome != StatusOwnerFailure {
		t.Fatalf("expected owner failure, got %q %v", outcome, err)
	}
	if len(h.msgr.sent) != before {
		t.Fatal("owner failure triggered another message")
	}
}

func TestSweepRepairsCorruptRecordAndContinues(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)
	ctx := context.Background()
	_ = h.store.Put(ctx, repository.PendingKey("+393339999999"), []byte("{oops"), 0)
	_ = h.repo.SaveFollowup(ctx, "+393330000000", domain.FollowupState{Sent1: true})

	report := h.sweepAt(t, t0.Add(25*time.Hour))
	if report.Actions[domain.ActionRepair] != 1 || report.Actions[domain.ActionFollowup1] != 1 {
		t.Fatalf("unexpected actions %+v", report.Actions)
	}
	if report.Orphans != 1 {
		t.Fatalf("expected orphan follow-up state dropped, got %d", report.Orphans)
	}
	if ok, _ := kv.Exists(ctx, h.store, repository.PendingKey("+393339999999")); ok {
		t.Fatal("expected corrupt record deleted")
	}
}

func TestIngestLeadgenDeduplicates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.svc.IngestLeadgen(ctx, "123")
	if err != nil || !first.Created {
		t.Fatalf("expected created, got %+v %v", first, err)
	}
	second, err := h.svc.IngestLeadgen(ctx, "123")
	if err != nil || !second.Duplicate {
		t.Fatalf("expected duplicate, got %+v %v", second, err)
	}
	if h.fetcher.calls != 1 {
		t.Fatalf("expected a single fetch, got %d", h.fetcher.calls)
	}
	if lead := h.lead(t); lead.LeadID != "123" || lead.Email != "mario@example.com" {
		t.Fatalf("unexpected lead %+v", lead)
	}

	h.fetcher.lead.Phone = "12"
	if _, err := h.svc.IngestLeadgen(ctx, "456"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for bad phone, got %v", err)
	}
}

func TestActions(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.WelcomeDelay = time.Hour })
	ctx := context.Background()

	if _, err := h.svc.Action(ctx, ActionWelcome, leadPhone); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	h.ingest(t)

	if _, err := h.svc.Action(ctx, "resend", leadPhone); !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}

	res, err := h.svc.Action(ctx, ActionWelcome, leadPhone)
	if err != nil || res.MessageID == "" {
		t.Fatalf("welcome: %+v %v", res, err)
	}
	res, _ = h.svc.Action(ctx, ActionWelcome, leadPhone)
	if res.Message != "welcome already sent" {
		t.Fatalf("unexpected message %q", res.Message)
	}

	if res, err = h.svc.Action(ctx, ActionFollowup2, leadPhone); err != nil || res.Message != "follow-up 2 sent" {
		t.Fatalf("f2: %+v %v", res, err)
	}
	if res, _ = h.svc.Action(ctx, ActionFollowup2, leadPhone); res.Message != "follow-up 2 already sent" {
		t.Fatalf("unexpected message %q", res.Message)
	}

	if _, err := h.svc.Action(ctx, ActionDelete, leadPhone); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.repo.GetLead(ctx, leadPhone); !errors.Is(err, domain.ErrLeadNotFound) {
		t.Fatal("expected lead deleted")
	}

	_ = h.store.Put(ctx, repository.PendingKey(leadPhone), []byte("not json"), 0)
	if _, err := h.svc.Action(ctx, ActionFollowup1, leadPhone); !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error for corrupt lead, got %v", err)
	}
}

func TestOverviewSortsNewestFirst(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, _ = h.svc.Ingest(ctx, NewLead{Phone: "3331111111", Name: "Old"})
	h.clock.Set(t0.Add(time.Hour))
	_, _ = h.svc.Ingest(ctx, NewLead{Phone: "3332222222", Name: "New"})

	overview, err := h.svc.Overview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if len(overview.Leads) != 2 || overview.Leads[0].Name != "New" || overview.Counter != 2 {
		t.Fatalf("unexpected overview %+v", overview)
	}
	if overview.Leads[0].Stage != domain.StageWelcomed {
		t.Fatalf("unexpected stage %q", overview.Leads[0].Stage)
	}
}

func TestOverviewLogsUnreadableFollowupState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	var buf bytes.Buffer
	h.svc.log = logger.NewWithWriter("production", &buf)

	h.ingest(t)
	if err := h.store.Put(ctx, repository.FollowupKey(leadPhone), []byte("{broken"), time.Hour); err != nil {
		t.Fatalf("seed followup: %v", err)
	}

	overview, err := h.svc.Overview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if len(overview.Leads) != 1 || overview.Leads[0].Phone != leadPhone {
		t.Fatalf("lead should still be listed, got %+v", overview.Leads)
	}
	if out := buf.String(); !strings.Contains(out, "store_error") || !strings.Contains(out, repository.FollowupKey(leadPhone)) {
		t.Fatalf("expected store error log for followup key, got %q", out)
	}
}
