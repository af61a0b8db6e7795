package scheduler

import (
	"context"
	"time"

	"leadrelay/internal/leads/service"
	"leadrelay/platform/logger"

	"github.com/adhocore/gronx"
)

const retryAfterBadTick = 30 * time.Second

// Sweeper runs one sweep pass.
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
}

// LocalSweeper runs the sweep in-process on a cron spec. It serves deployments
// without Redis, where delayed welcomes are also picked up by the sweep.
type LocalSweeper struct {
	cron    string
	sweeper Sweeper
	log     *logger.Logger
	now     func() time.Time
}

func NewLocalSweeper(cron string, sweeper Sweeper, log *logger.Logger) *LocalSweeper {
	if log == nil {
		log = logger.Nop()
	}
	return &LocalSweeper{cron: cron, sweeper: sweeper, log: log, now: time.Now}
}

// Next returns the first tick strictly after t.
func (l *LocalSweeper) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(l.cron, t, false)
}

// Run sweeps once at start, then on every tick until ctx is done.
// Passes never overlap: the next tick is computed after a pass ends.
func (l *LocalSweeper) Run(ctx context.Context) {
	l.log.Info("local sweeper started", "cron", l.cron)
	l.runOnce(ctx)

	for {
		wait := retryAfterBadTick
		next, err := l.Next(l.now())
		if err != nil {
			l.log.Error("sweep next tick failed", "cron", l.cron, "error", err)
		} else {
			wait = time.Until(next)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.log.Info("local sweeper stopping")
			return
		case <-timer.C:
		}
		if err == nil {
			l.runOnce(ctx)
		}
	}
}

func (l *LocalSweeper) runOnce(ctx context.Context) {
	if _, err := l.sweeper.Sweep(ctx); err != nil && ctx.Err() == nil {
		l.log.Error("sweep failed", "error", err)
	}
}
