package processor

import (
	"context"
	"errors"
	"sync"
)

// Dispatcher hands an accepted call to whatever runs the pipeline later.
type Dispatcher interface {
	Dispatch(ctx context.Context, externalCallID string) error
}

// BackgroundDispatcher runs the pipeline in a goroutine of this process. It is
// used when no task queue is configured.
type BackgroundDispatcher struct {
	proc *Processor

	// tracks calls with a goroutine in flight
	activeRuns map[string]bool
	runsMu     sync.Mutex
	wg         sync.WaitGroup
}

// NewBackgroundDispatcher creates an in-process dispatcher.
func NewBackgroundDispatcher(proc *Processor) *BackgroundDispatcher {
	return &BackgroundDispatcher{proc: proc, activeRuns: make(map[string]bool)}
}

func (d *BackgroundDispatcher) markRunning(externalCallID string) bool {
	d.runsMu.Lock()
	defer d.runsMu.Unlock()
	if d.activeRuns[externalCallID] {
		return false
	}
	d.activeRuns[externalCallID] = true
	return true
}

func (d *BackgroundDispatcher) markComplete(externalCallID string) {
	d.runsMu.Lock()
	defer d.runsMu.Unlock()
	delete(d.activeRuns, externalCallID)
}

// Dispatch starts processing detached from ctx's cancellation.
func (d *BackgroundDispatcher) Dispatch(ctx context.Context, externalCallID string) error {
	if !d.markRunning(externalCallID) {
		d.proc.log.Info("dispatcher: call already running, skipping", "callId", externalCallID)
		return nil
	}

	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.markComplete(externalCallID)

		_, err := d.proc.Process(runCtx, externalCallID, ProcessOptions{})
		switch {
		case errors.Is(err, ErrCallBusy):
			d.proc.log.Info("dispatcher: call locked elsewhere", "callId", externalCallID)
		case err != nil:
			d.proc.log.Error("dispatcher: processing failed", "callId", externalCallID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has returned.
func (d *BackgroundDispatcher) Wait() {
	d.wg.Wait()
}

var _ Dispatcher = (*BackgroundDispatcher)(nil)
