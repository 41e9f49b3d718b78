package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"callflow_backend/internal/calls"
	"callflow_backend/internal/processor"
	"callflow_backend/platform/config"
	"callflow_backend/platform/logger"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Env:                  "test",
		CallStore:            "memory",
		LockTTL:              time.Minute,
		MatchThreshold:       0.5,
		ExactMatchThreshold:  0.9,
		MatchAmbiguityPolicy: "first",
	}
}

func TestBuildMemoryRuntimeProcessesWithFallback(t *testing.T) {
	ctx := context.Background()
	rt, err := Build(ctx, memoryConfig(), logger.Discard(), Options{Notifications: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()

	if rt.Pool != nil || rt.Redis != nil || rt.Archive != nil {
		t.Fatalf("expected no external infrastructure")
	}

	res, err := rt.Processor.Accept(ctx, processor.Intake{Call: calls.Call{
		ExternalCallID: "conv_boot",
		Transcript: []calls.TranscriptSegment{
			{Sequence: 0, Speaker: calls.SpeakerAgent, Message: "Buenos días"},
			{Sequence: 1, Speaker: calls.SpeakerUser, Message: "Llamaba por mi póliza"},
		},
	}})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Call.Status != calls.StatusPendingSync {
		t.Fatalf("unexpected status %s", res.Call.Status)
	}

	call, err := rt.Processor.Process(ctx, "conv_boot", processor.ProcessOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if call.Status != calls.StatusCompleted || call.HasTickets() {
		t.Fatalf("expected completed fallback without tickets, got %s %v", call.Status, call.TicketIDs)
	}
}

func TestLoadTaxonomyFromFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.TaxonomyFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := loadTaxonomy(cfg); err == nil {
		t.Fatalf("expected error for missing taxonomy file")
	}

	cfg.TaxonomyFile = ""
	tax, err := loadTaxonomy(cfg)
	if err != nil || tax == nil {
		t.Fatalf("expected embedded taxonomy, got %v", err)
	}
}

func TestBuildFailsOnUnreadableTaxonomy(t *testing.T) {
	cfg := memoryConfig()
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	if err := os.WriteFile(path, []byte("types: ["), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg.TaxonomyFile = path

	if _, err := Build(context.Background(), cfg, logger.Discard(), Options{}); err == nil {
		t.Fatalf("expected build error")
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	err := WithRetry(ctx, logger.Discard(), "flaky", 3, time.Millisecond, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Fatalf("expected success on second attempt, got %v after %d", err, attempts)
	}

	err = WithRetry(ctx, logger.Discard(), "broken", 2, time.Millisecond, func() error {
		return errors.New("down")
	})
	if err == nil || err.Error() != "broken: down" {
		t.Fatalf("unexpected error %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := WithRetry(cancelled, logger.Discard(), "cancelled", 3, time.Millisecond, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
