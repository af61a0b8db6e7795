package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadrelay/platform/config"
	"leadrelay/platform/kv"

	"github.com/hibiken/asynq"
)

const defaultQueue = "default"

// Client enqueues delayed welcomes.
type Client struct {
	client *asynq.Client
	queue  string
}

// WelcomeScheduler is satisfied by *Client and matches the lifecycle engine's port.
type WelcomeScheduler interface {
	ScheduleWelcome(ctx context.Context, phone string, at time.Time) error
}

// QueueEnabled reports whether delayed work goes through asynq. The worker runs in
// its own process, so it only sees leads kept in a shared redis store.
func QueueEnabled(cfg config.SchedulerConfig) bool {
	return cfg.GetStoreDriver() == "redis" && cfg.GetRedisURL() != ""
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	if !QueueEnabled(cfg) {
		return nil, errors.New("scheduler: task queue requires STORE_DRIVER=redis and REDIS_URL")
	}
	opt, err := redisClientOpt(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ScheduleWelcome runs the welcome of phone at the given time. A welcome task
// already queued for the phone is kept.
func (c *Client) ScheduleWelcome(ctx context.Context, phone string, at time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewWelcomeTask(WelcomePayload{Phone: phone})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(at),
		asynq.Queue(c.queue),
		asynq.TaskID(welcomeTaskID(phone)),
		asynq.MaxRetry(3),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func queueName(cfg config.SchedulerConfig) string {
	if q := cfg.GetAsynqQueueName(); q != "" {
		return q
	}
	return defaultQueue
}

func redisClientOpt(cfg config.SchedulerConfig) (asynq.RedisClientOpt, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return asynq.RedisClientOpt{}, fmt.Errorf("redis url not configured")
	}

	opt, err := kv.RedisOptions(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}
