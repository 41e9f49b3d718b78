package email

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestCallFailedMessage(t *testing.T) {
	s := NewSMTPSender("smtp.broker.es", 587, "", "", "alertas@broker.es", "Procesador de llamadas")
	msg, err := s.callFailedMessage([]string{"ops@broker.es", "it@broker.es"}, CallFailedAlert{
		ExternalCallID: "conv_9",
		Stage:          "execute",
		Error:          "crm: create ticket: status 502 <bad gateway>",
		Attempts:       2,
		OccurredAt:     time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("write message: %v", err)
	}
	raw := buf.String()
	for _, want := range []string{"ops@broker.es", "it@broker.es", "alertas@broker.es", "conv_9"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q", want)
		}
	}
}

func TestRenderCallFailedEscapesError(t *testing.T) {
	content, err := renderEmailTemplate("call_failed.html", callFailedEmailData{
		baseEmailData:  baseEmailData{Title: "t", Heading: "h"},
		ExternalCallID: "conv_9",
		Stage:          "decide",
		Attempts:       1,
		Error:          "<script>alert(1)</script>",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(content, "<script>") {
		t.Fatalf("error text must be escaped")
	}
	if !strings.Contains(content, "decide") || strings.Contains(content, "Ver llamada") {
		t.Fatalf("unexpected content %s", content)
	}
}

func TestBuildMessageRequiresRecipients(t *testing.T) {
	s := NewSMTPSender("smtp.broker.es", 587, "", "", "alertas@broker.es", "")
	if _, err := s.buildMessage(nil, "s", "b"); err == nil {
		t.Fatalf("expected error without recipients")
	}
	if err := (NoopSender{}).SendCallFailedAlert(context.Background(), nil, CallFailedAlert{}); err != nil {
		t.Fatalf("noop sender: %v", err)
	}
}
