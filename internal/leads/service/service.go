package service

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"leadrelay/internal/events"
	"leadrelay/internal/leadads"
	"leadrelay/internal/leads/domain"
	"leadrelay/internal/leads/repository"
	"leadrelay/platform/config"
	"leadrelay/platform/logger"
	"leadrelay/platform/metrics"
	"leadrelay/platform/phone"
	"leadrelay/platform/validator"
)

// leadgenSeenPrefix namespaces lead form ids inside the inbound dedup markers.
const leadgenSeenPrefix = "leadgen:"

// Messenger sends WhatsApp templates and returns the outbound message id.
type Messenger interface {
	SendTemplate(ctx context.Context, to string, spec config.TemplateSpec, params ...string) (string, error)
}

// LeadFetcher loads a lead form submission.
type LeadFetcher interface {
	FetchLead(ctx context.Context, leadgenID string) (leadads.Lead, error)
}

// RelayRecorder lets owner notifications be answered through the relay.
type RelayRecorder interface {
	SaveMapping(ctx context.Context, outboundID, userPhone string) error
}

// InboundDeduper records inbound ids and reports whether they are new.
type InboundDeduper interface {
	MarkSeen(ctx context.Context, id string) (bool, error)
}

// WelcomeScheduler enqueues a delayed welcome. The sweep is the fallback when it fails.
type WelcomeScheduler interface {
	ScheduleWelcome(ctx context.Context, phone string, at time.Time) error
}

// Deps are the collaborators of the lifecycle engine. Scheduler, Bus, Metrics,
// Validator, Now and Jitter are optional.
type Deps struct {
	Repo      repository.LeadsRepository
	Messenger Messenger
	Fetcher   LeadFetcher
	Relay     RelayRecorder
	Dedup     InboundDeduper
	Scheduler WelcomeScheduler
	Bus       events.Bus
	Metrics   *metrics.Metrics
	Validator *validator.Validator
	Config    config.LifecycleConfig
	Log       *logger.Logger
	Now       func() time.Time
	Jitter    func(max time.Duration) time.Duration
}

// Service is the lead lifecycle engine.
type Service struct {
	repo      repository.LeadsRepository
	messenger Messenger
	fetcher   LeadFetcher
	relay     RelayRecorder
	dedup     InboundDeduper
	scheduler WelcomeScheduler
	bus       events.Bus
	metrics   *metrics.Metrics
	validator *validator.Validator
	cfg       config.LifecycleConfig
	log       *logger.Logger
	now       func() time.Time
	jitter    func(max time.Duration) time.Duration

	normalizer phone.Normalizer
	owner      string
	policy     domain.Policy
}

func New(d Deps) *Service {
	normalizer := phone.NewNormalizer(d.Config.GetDefaultCountryCode(), d.Config.GetMobilePrefixes())

	s := &Service{
		repo:       d.Repo,
		messenger:  d.Messenger,
		fetcher:    d.Fetcher,
		relay:      d.Relay,
		dedup:      d.Dedup,
		scheduler:  d.Scheduler,
		bus:        d.Bus,
		metrics:    d.Metrics,
		validator:  d.Validator,
		cfg:        d.Config,
		log:        d.Log,
		now:        d.Now,
		jitter:     d.Jitter,
		normalizer: normalizer,
		owner:      normalizer.Normalize(d.Config.GetOwnerPhone()),
		policy: domain.Policy{
			Followup1After:  d.Config.GetFollowup1After(),
			Followup2After:  d.Config.GetFollowup2After(),
			HourStart:       d.Config.GetFollowupHourStart(),
			HourEnd:         d.Config.GetFollowupHourEnd(),
			Location:        d.Config.GetLocation(),
			MaxAge:          d.Config.GetLeadMaxAge(),
			FailedRetention: d.Config.GetFailedLeadRetention(),
		},
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.jitter == nil {
		s.jitter = randomJitter
	}
	if s.validator == nil {
		s.validator = validator.New(normalizer)
	}
	return s
}

// SetScheduler wires the delayed-welcome queue after construction.
func (s *Service) SetScheduler(scheduler WelcomeScheduler) {
	s.scheduler = scheduler
}

// Policy exposes the timing rules, e.g. for stage display.
func (s *Service) Policy() domain.Policy {
	return s.policy
}

// Normalize canonicalizes a phone with the configured national defaults.
func (s *Service) Normalize(raw string) string {
	return s.normalizer.Normalize(raw)
}

func (s *Service) template(kind string) config.TemplateSpec {
	return s.cfg.Template(kind)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, event)
}

func (s *Service) logFor(ctx context.Context, phone string) *logger.Logger {
	return s.log.WithContext(context.WithValue(ctx, logger.PhoneKey, phone))
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// templateParam keeps template parameters non-empty; the API rejects blanks.
func templateParam(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return "-"
	}
	return v
}
