package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"callflow_backend/internal/processor"
	"callflow_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	processMaxRetry = 5
	processTimeout  = 10 * time.Minute
)

// Client enqueues call work on the asynq queue. It implements
// processor.Dispatcher so the webhook can hand calls to the worker.
type Client struct {
	client *asynq.Client
	queue  string
}

var _ processor.Dispatcher = (*Client)(nil)

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
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

// Dispatch enqueues one pipeline run. A run already queued for the same call
// is not duplicated.
func (c *Client) Dispatch(ctx context.Context, externalCallID string) error {
	if c == nil || c.client == nil {
		return errors.New("scheduler: client not configured")
	}

	task, err := NewProcessCallTask(ProcessCallPayload{ExternalCallID: externalCallID})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.TaskID(processTaskID(externalCallID)),
		asynq.MaxRetry(processMaxRetry),
		asynq.Timeout(processTimeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// EnqueueReprocessStuck queues a one-off sweep.
func (c *Client) EnqueueReprocessStuck(ctx context.Context, payload ReprocessStuckPayload) error {
	if c == nil || c.client == nil {
		return errors.New("scheduler: client not configured")
	}

	task, err := NewReprocessStuckTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(0))
	return err
}

func processTaskID(externalCallID string) string {
	return "process:" + externalCallID
}

func queueName(cfg config.SchedulerConfig) string {
	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}
	return queue
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
