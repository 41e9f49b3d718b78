// Package voicegateway fetches conversation data from the upstream voice/AI
// gateway and converts its wire format into call transcripts.
package voicegateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"callflow_backend/internal/calls"
	"callflow_backend/platform/config"
	"callflow_backend/platform/logger"
	"callflow_backend/platform/validator"
)

var (
	// ErrNotConfigured is returned when no gateway endpoint is set up.
	ErrNotConfigured = errors.New("voice gateway not configured")
	// ErrConversationNotFound is returned for unknown conversation ids.
	ErrConversationNotFound = errors.New("conversation not found")
)

// ParticipantCount counts messages per side.
type ParticipantCount struct {
	AgentMessages int `json:"agent_messages" validate:"gte=0"`
	UserMessages  int `json:"user_messages" validate:"gte=0"`
	TotalMessages int `json:"total_messages" validate:"gte=0"`
}

// Details is the conversation metadata endpoint response.
type Details struct {
	CallID           string           `json:"call_id"`
	ConversationID   string           `json:"conversation_id"`
	AgentID          string           `json:"agent_id"`
	Status           string           `json:"status"`
	StartTime        string           `json:"start_time"`
	EndTime          string           `json:"end_time"`
	DurationSeconds  int              `json:"duration_seconds"`
	Cost             int              `json:"cost"`
	CallSuccessful   bool             `json:"call_successful"`
	Summary          string           `json:"summary"`
	RecordingURL     string           `json:"recording_url"`
	ParticipantCount ParticipantCount `json:"participant_count"`
}

// Started parses StartTime.
func (d Details) Started() (time.Time, bool) {
	return parseTime(d.StartTime)
}

// Ended parses EndTime.
func (d Details) Ended() (time.Time, bool) {
	return parseTime(d.EndTime)
}

func parseTime(raw string) (time.Time, bool) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, false
	}
	t, err := validator.ParseISO8601(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Conversation is the assembled gateway view of one call.
type Conversation struct {
	Details    Details
	Transcript []calls.TranscriptSegment
}

type transcriptResponse struct {
	Transcripts []WireSegment `json:"transcripts"`
}

// Client reads conversations from the gateway API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *logger.Logger
}

// New creates a gateway client.
func New(cfg config.GatewayConfig, log *logger.Logger) *Client {
	timeout := cfg.GetGatewayTimeout()
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.GetGatewayBaseURL(), "/"),
		apiKey:     cfg.GetGatewayAPIKey(),
		log:        log,
	}
}

// FetchConversation loads details and transcript concurrently. Either
// failing fails the whole fetch.
func (c *Client) FetchConversation(ctx context.Context, conversationID string) (Conversation, error) {
	if c.baseURL == "" {
		return Conversation{}, ErrNotConfigured
	}

	var (
		details    Details
		transcript transcriptResponse
	)
	escaped := url.PathEscape(conversationID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.getJSON(gctx, "/conversations/"+escaped, &details)
	})
	g.Go(func() error {
		return c.getJSON(gctx, "/conversations/"+escaped+"/transcript", &transcript)
	})
	if err := g.Wait(); err != nil {
		return Conversation{}, fmt.Errorf("fetch conversation %s: %w", conversationID, err)
	}

	return Conversation{
		Details:    details,
		Transcript: ToSegments(transcript.Transcripts),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.ExternalCallFailed("voice_gateway", path, err)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrConversationNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.Error("voice gateway unauthorized", "status", resp.StatusCode)
		return fmt.Errorf("unauthorized: status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		c.log.Error("voice gateway upstream error", "status", resp.StatusCode, "path", path)
		return fmt.Errorf("upstream error: status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
