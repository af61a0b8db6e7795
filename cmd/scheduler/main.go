package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadrelay/internal/email"
	"leadrelay/internal/events"
	"leadrelay/internal/leadads"
	leadsrepo "leadrelay/internal/leads/repository"
	"leadrelay/internal/leads/service"
	"leadrelay/internal/notification"
	relayrepo "leadrelay/internal/relay/repository"
	"leadrelay/internal/scheduler"
	"leadrelay/internal/whatsapp"
	"leadrelay/platform/config"
	"leadrelay/platform/kv"
	"leadrelay/platform/logger"
	"leadrelay/platform/metrics"
	"leadrelay/platform/phone"
	"leadrelay/platform/validator"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "cron", cfg.GetSweepCron())

	if !scheduler.QueueEnabled(cfg) {
		// embedded stores are owned by the api process, which sweeps in-process
		log.Error("scheduler requires STORE_DRIVER=redis and REDIS_URL")
		panic("scheduler requires a redis store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store kv.Store
	if err := withRetry(ctx, log, "store connection", 5, 2*time.Second, func() error {
		s, err := kv.Open(cfg)
		if err != nil {
			return err
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return err
		}
		store = s
		return nil
	}); err != nil {
		log.Error("failed to open store", "error", err)
		panic("failed to open store: " + err.Error())
	}
	defer func() { _ = store.Close() }()

	eventBus := events.NewInMemoryBus(log)

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	notificationModule := notification.New(sender, cfg, log)
	notificationModule.RegisterHandlers(eventBus)

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer func() { _ = client.Close() }()

	relayRepo := relayrepo.New(store, cfg.GetRelayMappingTTL(), cfg.GetSeenTTL())
	lifecycle := service.New(service.Deps{
		Repo:      leadsrepo.New(store, cfg.GetRecordTTL()),
		Messenger: whatsapp.NewClient(cfg, log),
		Fetcher:   leadads.NewClient(cfg, log),
		Relay:     relayRepo,
		Dedup:     relayRepo,
		Scheduler: client,
		Bus:       eventBus,
		Metrics:   metrics.New(),
		Validator: validator.New(phone.NewNormalizer(cfg.GetDefaultCountryCode(), cfg.GetMobilePrefixes())),
		Config:    cfg,
		Log:       log,
	})

	worker, err := scheduler.NewWorker(cfg, lifecycle, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	periodic, err := scheduler.NewPeriodicScheduler(cfg, cfg.GetLocation(), log)
	if err != nil {
		log.Error("failed to initialize periodic scheduler", "error", err)
		panic("failed to initialize periodic scheduler: " + err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return periodic.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("scheduler stopped", "error", err)
		panic("scheduler stopped: " + err.Error())
	}
	eventBus.Wait()
	log.Info("scheduler stopped")
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
