package calls

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMemoryRepositoryInsertRejectsDuplicateExternalID(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first, err := repo.Insert(ctx, Call{ExternalCallID: "conv_1"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first.Status != StatusPendingSync {
		t.Fatalf("expected default status pending_sync, got %s", first.Status)
	}
	if _, err := repo.Insert(ctx, Call{ExternalCallID: "conv_1"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	found, err := repo.FindByExternalID(ctx, "conv_1")
	if err != nil || found == nil || found.ID != first.ID {
		t.Fatalf("expected to find inserted call, got %+v err=%v", found, err)
	}
	missing, err := repo.FindByExternalID(ctx, "conv_404")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing call, got %+v err=%v", missing, err)
	}
}

func TestMemoryRepositoryUpdateAppendsLogAndKeepsUnsetFields(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	c, _ := repo.Insert(ctx, Call{ExternalCallID: "conv_1", Summary: "quote request"})

	status := StatusPendingAnalysis
	if _, err := repo.Update(ctx, c.ID, CallUpdate{
		Status:    &status,
		AppendLog: []LogEntry{NewLogEntry("fetch", LogInfo, "transcript ready")},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	clientID := "701795F00"
	updated, err := repo.Update(ctx, c.ID, CallUpdate{
		ClientID:          &clientID,
		Decision:          json.RawMessage(`{"priority":"medium"}`),
		IncrementAttempts: true,
		AppendLog:         []LogEntry{NewLogEntry("execute", LogInfo, "client resolved")},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.Status != StatusPendingAnalysis {
		t.Fatalf("status must survive an update that does not set it, got %s", updated.Status)
	}
	if updated.Summary != "quote request" {
		t.Fatalf("summary overwritten: %q", updated.Summary)
	}
	if len(updated.ProcessingLog) != 2 || updated.ProcessingLog[0].Stage != "fetch" || updated.ProcessingLog[1].Stage != "execute" {
		t.Fatalf("expected both log entries in order, got %+v", updated.ProcessingLog)
	}
	if updated.ClientID == nil || *updated.ClientID != clientID || updated.Attempts != 1 {
		t.Fatalf("unexpected update result %+v", updated)
	}
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	c, _ := repo.Insert(ctx, Call{ExternalCallID: "conv_1", TicketIDs: []string{"T-1"}})

	c.TicketIDs[0] = "mutated"
	again, _ := repo.GetByID(ctx, c.ID)
	if again.TicketIDs[0] != "T-1" {
		t.Fatalf("stored call was mutated through returned value")
	}
}

func TestMemoryRepositoryListStuck(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	repo.now = func() time.Time { return clock }

	old, _ := repo.Insert(ctx, Call{ExternalCallID: "old"})
	clock = base.Add(time.Minute)
	failedCall, _ := repo.Insert(ctx, Call{ExternalCallID: "failed"})
	failed := StatusFailed
	_, _ = repo.Update(ctx, failedCall.ID, CallUpdate{Status: &failed})
	clock = base.Add(2 * time.Hour)
	_, _ = repo.Insert(ctx, Call{ExternalCallID: "fresh"})

	stuck, err := repo.ListStuck(ctx, ListStuckParams{
		Statuses:  []Status{StatusPendingSync, StatusPendingAnalysis},
		OlderThan: base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("list stuck: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != old.ID {
		t.Fatalf("expected only the old pending call, got %+v", stuck)
	}

	withFailed, _ := repo.ListStuck(ctx, ListStuckParams{
		Statuses:  []Status{StatusPendingSync, StatusFailed},
		OlderThan: base.Add(time.Hour),
		Limit:     1,
	})
	if len(withFailed) != 1 || withFailed[0].ID != old.ID {
		t.Fatalf("expected oldest call first with limit 1, got %+v", withFailed)
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPendingSync, StatusPendingAnalysis, true},
		{StatusPendingSync, StatusFailed, true},
		{StatusPendingSync, StatusCompleted, false},
		{StatusPendingAnalysis, StatusCompleted, true},
		{StatusPendingAnalysis, StatusFailed, true},
		{StatusFailed, StatusPendingSync, true},
		{StatusCompleted, StatusPendingSync, true},
		{StatusCompleted, StatusFailed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestSortTranscriptIsStable(t *testing.T) {
	segs := []TranscriptSegment{
		{Sequence: 2, Message: "b"},
		{Sequence: 0, Message: "a"},
		{Sequence: 2, Message: "c"},
	}
	SortTranscript(segs)
	if segs[0].Message != "a" || segs[1].Message != "b" || segs[2].Message != "c" {
		t.Fatalf("unexpected order %+v", segs)
	}
}
