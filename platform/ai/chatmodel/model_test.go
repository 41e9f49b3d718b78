package chatmodel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

func TestGenerateContentSendsSystemAndUserMessages(t *testing.T) {
	var got struct {
		Model          string            `json:"model"`
		Messages       []chatMessage     `json:"messages"`
		ResponseFormat map[string]string `json:"response_format"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}],"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`))
	}))
	defer srv.Close()

	m := NewModel(Config{APIKey: "key-1", BaseURL: srv.URL + "/", Model: "classifier-x", JSONMode: true})
	req := &model.LLMRequest{
		Contents: []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: "transcript"}}}},
		Config:   &genai.GenerateContentConfig{SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: "classify"}}}},
	}

	var resp *model.LLMResponse
	for r, err := range m.GenerateContent(context.Background(), req, false) {
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		resp = r
	}

	if got.Model != "classifier-x" {
		t.Fatalf("expected model classifier-x, got %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "transcript" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
	if got.ResponseFormat["type"] != "json_object" {
		t.Fatalf("expected json mode, got %v", got.ResponseFormat)
	}
	if resp == nil || resp.Content.Parts[0].Text != `{"ok":true}` {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.UsageMetadata == nil || resp.UsageMetadata.TotalTokenCount != 13 {
		t.Fatalf("expected usage metadata")
	}
}

func TestGenerateContentFailsOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewModel(Config{APIKey: "k", BaseURL: srv.URL})
	for _, err := range m.GenerateContent(context.Background(), &model.LLMRequest{}, false) {
		if err == nil {
			t.Fatalf("expected error for 503")
		}
	}
}
