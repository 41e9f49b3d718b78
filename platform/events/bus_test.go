package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"callflow_backend/platform/logger"
)

type testEvent struct {
	BaseEvent
}

func (testEvent) EventName() string { return "test.happened" }

func TestPublishSyncJoinsHandlerErrors(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())
	var calls int32
	bus.Subscribe("test.happened", HandlerFunc(func(ctx context.Context, event Event) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}))
	bus.Subscribe("test.happened", HandlerFunc(func(ctx context.Context, event Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	err := bus.PublishSync(context.Background(), testEvent{BaseEvent: NewBaseEvent()})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if calls != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
}

func TestPublishRecoversFromPanics(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())
	done := make(chan struct{})
	bus.Subscribe("test.happened", HandlerFunc(func(ctx context.Context, event Event) error {
		panic("handler exploded")
	}))
	bus.Subscribe("test.happened", HandlerFunc(func(ctx context.Context, event Event) error {
		close(done)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, testEvent{BaseEvent: NewBaseEvent()})
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("second handler did not run")
	}
	bus.Wait()
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())
	bus.Publish(context.Background(), testEvent{BaseEvent: NewBaseEvent()})
	if err := bus.PublishSync(context.Background(), testEvent{BaseEvent: NewBaseEvent()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewBaseEventIsStampedInUTC(t *testing.T) {
	a, b := NewBaseEvent(), NewBaseEvent()
	if a.EventID() == b.EventID() {
		t.Fatalf("events must get distinct ids")
	}
	if a.OccurredAt().Location() != time.UTC || a.OccurredAt().IsZero() {
		t.Fatalf("expected UTC timestamp, got %v", a.OccurredAt())
	}
}
