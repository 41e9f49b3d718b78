package voicegateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"callflow_backend/platform/logger"
)

type testConfig struct {
	baseURL string
}

func (c testConfig) GetGatewayBaseURL() string        { return c.baseURL }
func (c testConfig) GetGatewayAPIKey() string         { return "gw-key" }
func (c testConfig) GetGatewayTimeout() time.Duration { return time.Second }
func (c testConfig) IsGatewayEnabled() bool           { return c.baseURL != "" }

func TestFetchConversation(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer gw-key" {
			t.Errorf("missing authorization header")
		}
		switch r.URL.Path {
		case "/conversations/conv_1":
			_, _ = w.Write([]byte(`{"call_id":"c1","conversation_id":"conv_1","agent_id":"ag","duration_seconds":60,
				"participant_count":{"agent_messages":1,"user_messages":1,"total_messages":2}}`))
		case "/conversations/conv_1/transcript":
			_, _ = w.Write([]byte(`{"transcripts":[
				{"sequence":1,"speaker":"user","message":"hola"},
				{"sequence":0,"speaker":"agent","message":"buenas",
				 "tool_calls":[{"request_id":"r1","tool_name":"identificar_cliente"}],
				 "tool_results":[{"request_id":"r1","tool_name":"identificar_cliente","result":"{\"id\":\"701795F00\"}"}]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(testConfig{baseURL: srv.URL}, logger.Discard())
	conv, err := c.FetchConversation(context.Background(), "conv_1")
	if err != nil {
		t.Fatalf("FetchConversation: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected two requests, got %d", hits.Load())
	}
	if conv.Details.CallID != "c1" || conv.Details.ParticipantCount.TotalMessages != 2 {
		t.Fatalf("unexpected details %+v", conv.Details)
	}
	if len(conv.Transcript) != 2 || conv.Transcript[0].Message != "buenas" {
		t.Fatalf("unexpected transcript %+v", conv.Transcript)
	}
	tc := conv.Transcript[0].ToolCalls
	if len(tc) != 1 || tc[0].Result == nil || string(tc[0].Result.Payload) != `{"id":"701795F00"}` {
		t.Fatalf("tool result not paired and unwrapped: %+v", tc)
	}
}

func TestFetchConversationFailsWhenOneSideFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/conversations/conv_2/transcript" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(testConfig{baseURL: srv.URL}, logger.Discard())
	if _, err := c.FetchConversation(context.Background(), "conv_2"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFetchConversationNotConfigured(t *testing.T) {
	c := New(testConfig{}, logger.Discard())
	if _, err := c.FetchConversation(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
