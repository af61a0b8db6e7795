package scheduler

import (
	"context"
	"time"

	"leadrelay/platform/config"
	"leadrelay/platform/logger"

	"github.com/hibiken/asynq"
)

// PeriodicScheduler enqueues the sweep task on the configured cron spec.
// Run it in one process only; the worker pool consumes the tasks.
type PeriodicScheduler struct {
	scheduler *asynq.Scheduler
	cron      string
	queue     string
	log       *logger.Logger
}

func NewPeriodicScheduler(cfg config.SchedulerConfig, loc *time.Location, log *logger.Logger) (*PeriodicScheduler, error) {
	opt, err := redisClientOpt(cfg)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	return &PeriodicScheduler{
		scheduler: asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: loc}),
		cron:      cfg.GetSweepCron(),
		queue:     queueName(cfg),
		log:       log,
	}, nil
}

// Run registers the sweep and blocks until ctx is done.
func (p *PeriodicScheduler) Run(ctx context.Context) error {
	if p == nil || p.scheduler == nil {
		return nil
	}

	// a sweep that outlives its tick must not be queued twice
	entryID, err := p.scheduler.Register(p.cron, NewSweepTask(),
		asynq.Queue(p.queue),
		asynq.MaxRetry(0),
		asynq.Unique(time.Minute),
	)
	if err != nil {
		return err
	}
	if err := p.scheduler.Start(); err != nil {
		return err
	}
	p.log.Info("sweep scheduled", "cron", p.cron, "entry_id", entryID)

	<-ctx.Done()
	p.scheduler.Shutdown()
	return nil
}
