package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callflow_backend/internal/calls"
	"callflow_backend/internal/processor"
	"callflow_backend/platform/config"
	"callflow_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// CallRunner is the processor surface the worker drives.
type CallRunner interface {
	Process(ctx context.Context, externalCallID string, opts processor.ProcessOptions) (calls.Call, error)
	ReprocessStuck(ctx context.Context, opts processor.ReprocessOptions) (processor.ReprocessReport, error)
}

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	handlers  *taskHandlers
	log       *logger.Logger
}

type taskHandlers struct {
	runner CallRunner
	log    *logger.Logger
}

// NewWorker builds the asynq server and, when a sweep cron is configured, the
// periodic scheduler that enqueues stuck-call sweeps.
func NewWorker(cfg config.SchedulerConfig, runner CallRunner, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := queueName(cfg)

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
		IsFailure:      isFailure,
		RetryDelayFunc: retryDelay,
	})

	mux := asynq.NewServeMux()
	h := &taskHandlers{runner: runner, log: log}
	mux.HandleFunc(TaskProcessCall, h.handleProcessCall)
	mux.HandleFunc(TaskReprocessStuck, h.handleReprocessStuck)

	w := &Worker{server: server, mux: mux, handlers: h, log: log}

	if spec := cfg.GetStuckSweepCron(); spec != "" {
		w.scheduler = asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
		task, err := NewReprocessStuckTask(ReprocessStuckPayload{})
		if err != nil {
			return nil, err
		}
		entryID, err := w.scheduler.Register(spec, task, asynq.Queue(queue), asynq.MaxRetry(0), asynq.Unique(time.Minute))
		if err != nil {
			return nil, fmt.Errorf("register stuck sweep %q: %w", spec, err)
		}
		log.Info("scheduler: stuck sweep registered", "cron", spec, "entryId", entryID)
	}

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.log.Error("scheduler: periodic scheduler failed to start", "error", err)
		}
	}

	go func() {
		<-ctx.Done()
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// isFailure keeps lock contention out of the failure metrics; the task is
// still retried.
func isFailure(err error) bool {
	return !errors.Is(err, processor.ErrCallBusy)
}

func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	if errors.Is(err, processor.ErrCallBusy) {
		return 30 * time.Second
	}
	return asynq.DefaultRetryDelayFunc(n, err, task)
}

func (h *taskHandlers) handleProcessCall(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseProcessCallPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := h.log.WithCall(payload.ExternalCallID)
	call, err := h.runner.Process(ctx, payload.ExternalCallID, processor.ProcessOptions{Force: payload.Force})
	switch {
	case err == nil:
		log.Info("scheduler: call processed", "status", call.Status)
		return nil
	case errors.Is(err, processor.ErrCallBusy):
		return err
	case errors.Is(err, calls.ErrNotFound):
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case call.Status == calls.StatusFailed:
		// the failure is recorded on the call; reprocessing is explicit
		log.Warn("scheduler: call failed", "error", err)
		return nil
	default:
		return err
	}
}

func (h *taskHandlers) handleReprocessStuck(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseReprocessStuckPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	opts := processor.ReprocessOptions{
		OlderThan: time.Duration(payload.OlderThanMinutes) * time.Minute,
		Limit:     payload.Limit,
		Force:     payload.Force,
	}
	for _, raw := range payload.Statuses {
		status, err := calls.ParseStatus(raw)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		opts.Statuses = append(opts.Statuses, status)
	}

	report, err := h.runner.ReprocessStuck(ctx, opts)
	if err != nil {
		return err
	}
	h.log.Info("scheduler: stuck sweep finished",
		"processed", len(report.Processed),
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"skipped", len(report.Skipped),
	)
	return nil
}
