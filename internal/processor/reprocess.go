package processor

import (
	"context"
	"errors"
	"time"

	"callflow_backend/internal/calls"
)

const (
	defaultStuckOlderThan = 30 * time.Minute
	defaultStuckLimit     = 50
	maxStuckLimit         = 500
)

// ReprocessOptions selects the calls a sweep re-runs. Zero values take the
// processor's configured defaults.
type ReprocessOptions struct {
	Statuses  []calls.Status
	OlderThan time.Duration
	Limit     int
	Force     bool
	Delay     time.Duration
}

// ReprocessFailure is one call the sweep could not finish.
type ReprocessFailure struct {
	ExternalCallID string `json:"externalCallId"`
	Error          string `json:"error"`
}

// ReprocessReport summarizes a sweep.
type ReprocessReport struct {
	Processed []string           `json:"processed"`
	Succeeded []string           `json:"succeeded"`
	Failed    []ReprocessFailure `json:"failed"`
	Skipped   []string           `json:"skipped"`
}

// DefaultStuckStatuses are the states a call should never rest in.
func DefaultStuckStatuses() []calls.Status {
	return []calls.Status{calls.StatusPendingSync, calls.StatusPendingAnalysis}
}

func (p *Processor) reprocessDefaults(opts ReprocessOptions) ReprocessOptions {
	if len(opts.Statuses) == 0 {
		opts.Statuses = DefaultStuckStatuses()
	}
	if opts.OlderThan <= 0 {
		opts.OlderThan = p.cfg.StuckOlderThan
		if opts.OlderThan <= 0 {
			opts.OlderThan = defaultStuckOlderThan
		}
	}
	if opts.Limit <= 0 {
		opts.Limit = p.cfg.StuckBatchLimit
		if opts.Limit <= 0 {
			opts.Limit = defaultStuckLimit
		}
	}
	if opts.Limit > maxStuckLimit {
		opts.Limit = maxStuckLimit
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	} else if opts.Delay == 0 {
		opts.Delay = p.cfg.ReprocessDelay
	}
	return opts
}

// ReprocessStuck re-runs calls that stopped progressing, one at a time with a
// pause between them. A busy call is skipped. Cancelling ctx stops the sweep
// and returns what was done so far.
func (p *Processor) ReprocessStuck(ctx context.Context, opts ReprocessOptions) (ReprocessReport, error) {
	opts = p.reprocessDefaults(opts)
	report := ReprocessReport{
		Processed: []string{},
		Succeeded: []string{},
		Failed:    []ReprocessFailure{},
		Skipped:   []string{},
	}

	stuck, err := p.store.ListStuck(ctx, calls.ListStuckParams{
		Statuses:  opts.Statuses,
		OlderThan: p.now().Add(-opts.OlderThan),
		Limit:     opts.Limit,
	})
	if err != nil {
		return report, err
	}
	if len(stuck) == 0 {
		return report, nil
	}
	p.log.Info("reprocessor: sweep started", "calls", len(stuck), "statuses", opts.Statuses, "force", opts.Force)

	for i, c := range stuck {
		if i > 0 && opts.Delay > 0 {
			timer := time.NewTimer(opts.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return report, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		report.Processed = append(report.Processed, c.ExternalCallID)
		_, err := p.Process(ctx, c.ExternalCallID, ProcessOptions{Force: opts.Force})
		switch {
		case errors.Is(err, ErrCallBusy):
			report.Skipped = append(report.Skipped, c.ExternalCallID)
		case err != nil:
			report.Failed = append(report.Failed, ReprocessFailure{ExternalCallID: c.ExternalCallID, Error: err.Error()})
		default:
			report.Succeeded = append(report.Succeeded, c.ExternalCallID)
		}
	}

	p.log.Info("reprocessor: sweep finished",
		"processed", len(report.Processed),
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"skipped", len(report.Skipped))
	return report, nil
}
