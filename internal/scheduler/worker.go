package scheduler

import (
	"context"
	"fmt"

	"leadrelay/internal/leads"
	"leadrelay/platform/config"
	"leadrelay/platform/logger"

	"github.com/hibiken/asynq"
)

// Worker executes welcome and sweep tasks against the lifecycle engine.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	lifecycle leads.Lifecycle
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, lifecycle leads.Lifecycle, log *logger.Logger) (*Worker, error) {
	opt, err := redisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 5
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(lifecycle, log)
	w.server = server
	return w, nil
}

func newWorker(lifecycle leads.Lifecycle, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	w := &Worker{
		mux:       asynq.NewServeMux(),
		lifecycle: lifecycle,
		log:       log,
	}
	w.mux.HandleFunc(TaskLeadWelcome, w.handleWelcome)
	w.mux.HandleFunc(TaskLeadSweep, w.handleSweep)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleWelcome(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseWelcomePayload(task)
	if err != nil {
		// malformed payloads never become valid
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return w.lifecycle.DispatchWelcome(ctx, payload.Phone)
}

func (w *Worker) handleSweep(ctx context.Context, _ *asynq.Task) error {
	_, err := w.lifecycle.Sweep(ctx)
	return err
}
