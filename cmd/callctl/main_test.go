package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"callflow_backend/internal/bootstrap"
	"callflow_backend/internal/calls"
	"callflow_backend/internal/processor"
	"callflow_backend/platform/config"
	"callflow_backend/platform/logger"
)

func newTestRuntime(t *testing.T) *bootstrap.Runtime {
	t.Helper()
	cfg := &config.Config{
		Env:                  "test",
		CallStore:            "memory",
		LockTTL:              time.Minute,
		ReprocessDelay:       -1,
		MatchThreshold:       0.5,
		ExactMatchThreshold:  0.9,
		MatchAmbiguityPolicy: "first",
	}
	rt, err := bootstrap.Build(context.Background(), cfg, logger.Discard(), bootstrap.Options{})
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	_, err = rt.Processor.Accept(context.Background(), processor.Intake{Call: calls.Call{
		ExternalCallID: "conv_cli",
		Transcript: []calls.TranscriptSegment{
			{Sequence: 0, Speaker: calls.SpeakerAgent, Message: "Buenos días"},
			{Sequence: 1, Speaker: calls.SpeakerUser, Message: "Nada más, gracias"},
		},
	}})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return rt
}

func run(t *testing.T, rt *bootstrap.Runtime, args ...string) (string, error) {
	t.Helper()
	load := func(context.Context, bootstrap.Options) (*bootstrap.Runtime, error) { return rt, nil }
	root := newRootCmd(load)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestShowCall(t *testing.T) {
	rt := newTestRuntime(t)

	out, err := run(t, rt, "show", "conv_cli", "--json")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var call calls.Call
	if err := json.Unmarshal([]byte(out), &call); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if call.ExternalCallID != "conv_cli" || call.Status != calls.StatusPendingSync {
		t.Fatalf("unexpected call %+v", call)
	}

	out, err = run(t, rt, "show", "conv_cli")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.HasPrefix(out, "conv_cli  pending_sync") {
		t.Fatalf("unexpected text output %q", out)
	}
}

func TestShowUnknownCall(t *testing.T) {
	rt := newTestRuntime(t)
	if _, err := run(t, rt, "show", "nope"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPayloadNeedsArchive(t *testing.T) {
	rt := newTestRuntime(t)

	if _, err := run(t, rt, "payload", "conv_cli"); err == nil || !strings.Contains(err.Error(), "no archived payload") {
		t.Fatalf("expected missing payload error, got %v", err)
	}

	call, err := rt.Store.FindByExternalID(context.Background(), "conv_cli")
	if err != nil || call == nil {
		t.Fatalf("find: %v", err)
	}
	key := "calls/conv_cli.json"
	if _, err := rt.Store.Update(context.Background(), call.ID, calls.CallUpdate{RawPayloadKey: &key}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := run(t, rt, "payload", "conv_cli", "--url"); err == nil || !strings.Contains(err.Error(), "MINIO_ENDPOINT") {
		t.Fatalf("expected archive not configured, got %v", err)
	}
}

func TestReprocessCompletesCall(t *testing.T) {
	rt := newTestRuntime(t)

	out, err := run(t, rt, "reprocess", "conv_cli")
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if !strings.Contains(out, "completed") {
		t.Fatalf("expected completed status, got %q", out)
	}

	stored, err := rt.Store.FindByExternalID(context.Background(), "conv_cli")
	if err != nil || stored == nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != calls.StatusCompleted || stored.Attempts != 1 {
		t.Fatalf("unexpected stored call %s attempts=%d", stored.Status, stored.Attempts)
	}
}

func TestReprocessUnknownCall(t *testing.T) {
	rt := newTestRuntime(t)
	if _, err := run(t, rt, "reprocess", "nope"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReprocessStuckRejectsUnknownStatus(t *testing.T) {
	rt := newTestRuntime(t)
	if _, err := run(t, rt, "reprocess-stuck", "--status", "archived"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestReprocessStuckIgnoresRecentCalls(t *testing.T) {
	rt := newTestRuntime(t)

	out, err := run(t, rt, "reprocess-stuck", "--json", "--older-than", "1h")
	if err != nil {
		t.Fatalf("reprocess-stuck: %v", err)
	}
	var report processor.ReprocessReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if len(report.Processed) != 0 {
		t.Fatalf("recent call must not be swept, got %v", report.Processed)
	}
}

func TestParseStatuses(t *testing.T) {
	got, err := parseStatuses([]string{"failed", " pending_sync "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got[0] != calls.StatusFailed || got[1] != calls.StatusPendingSync {
		t.Fatalf("unexpected statuses %v", got)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, nil, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Fatalf("unexpected output %q", out)
	}
}
