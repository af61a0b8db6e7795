package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadrelay/internal/email"
	"leadrelay/internal/events"
	apphttp "leadrelay/internal/http"
	"leadrelay/internal/http/router"
	"leadrelay/internal/leadads"
	"leadrelay/internal/leads"
	leadsrepo "leadrelay/internal/leads/repository"
	"leadrelay/internal/leads/service"
	"leadrelay/internal/notification"
	"leadrelay/internal/relay"
	relayrepo "leadrelay/internal/relay/repository"
	"leadrelay/internal/scheduler"
	"leadrelay/internal/webhook"
	"leadrelay/internal/whatsapp"
	"leadrelay/platform/config"
	"leadrelay/platform/kv"
	"leadrelay/platform/logger"
	"leadrelay/platform/metrics"
	"leadrelay/platform/phone"
	"leadrelay/platform/validator"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

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
	log.Info("store ready", "driver", cfg.StoreDriver)

	m := metrics.New()

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	val := validator.New(phone.NewNormalizer(cfg.GetDefaultCountryCode(), cfg.GetMobilePrefixes()))

	welcomeClient, closeClient := initWelcomeScheduler(cfg, log)
	if closeClient != nil {
		defer closeClient()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	// Notification module subscribes to domain events (not HTTP-facing)
	notificationModule := notification.New(sender, cfg, log)
	notificationModule.RegisterHandlers(eventBus)

	messenger := whatsapp.NewClient(cfg, log)
	leadsRepo := leadsrepo.New(store, cfg.GetRecordTTL())
	relayRepo := relayrepo.New(store, cfg.GetRelayMappingTTL(), cfg.GetSeenTTL())

	lifecycle := service.New(service.Deps{
		Repo:      leadsRepo,
		Messenger: messenger,
		Fetcher:   leadads.NewClient(cfg, log),
		Relay:     relayRepo,
		Dedup:     relayRepo,
		Bus:       eventBus,
		Metrics:   m,
		Validator: val,
		Config:    cfg,
		Log:       log,
	})
	if welcomeClient != nil {
		lifecycle.SetScheduler(welcomeClient)
	}

	relayEngine := relay.NewEngine(messenger, relayRepo, leadsRepo, cfg, log, relay.WithMetrics(m))

	leadsModule := leads.NewModule(lifecycle, val, cfg, cfg.GetLocation(), log)
	webhookModule := webhook.NewModule(cfg, lifecycle, lifecycle, relayEngine, m, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   store,
		Metrics:  m,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			webhookModule,
			leadsModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Without a shared redis store there is no task queue: the sweep runs
	// in-process and also sends delayed welcomes.
	if welcomeClient == nil {
		sweeper := scheduler.NewLocalSweeper(cfg.GetSweepCron(), lifecycle, log)
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		eventBus.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		panic("server error: " + err.Error())
	}
	log.Info("server stopped")
}

func initWelcomeScheduler(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if !scheduler.QueueEnabled(cfg) {
		if cfg.GetRedisURL() != "" {
			log.Warn("REDIS_URL ignored for the task queue: the store is embedded", "driver", cfg.GetStoreDriver())
		}
		log.Info("delayed welcomes and follow-ups are handled by the in-process sweep")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize welcome scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
