// Package calls owns the call record: its lifecycle states, transcript and the
// persistence contract the processing pipeline writes through.
package calls

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no call matches the lookup.
	ErrNotFound = errors.New("call not found")
	// ErrDuplicate is returned when a call with the same external ID exists.
	ErrDuplicate = errors.New("call already exists")
)

// Status is the lifecycle state of a call.
type Status string

const (
	StatusPendingSync     Status = "pending_sync"
	StatusPendingAnalysis Status = "pending_analysis"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingSync, StatusPendingAnalysis, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends an attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a call may move from s to next. Terminal
// states only lead back to pending_sync, which starts a new attempt.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPendingSync:
		return next == StatusPendingAnalysis || next == StatusFailed
	case StatusPendingAnalysis:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed:
		return next == StatusPendingSync
	}
	return false
}

// ParseStatus converts a string into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", errors.New("unknown call status: " + raw)
	}
	return s, nil
}

// Speaker roles in a transcript.
const (
	SpeakerAgent = "agent"
	SpeakerUser  = "user"
)

// ToolResult is what an in-call lookup returned.
type ToolResult struct {
	RequestID string          `json:"requestId,omitempty"`
	Name      string          `json:"name"`
	IsError   bool            `json:"isError"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ToolInvocation is a named lookup the voice agent performed mid-call.
type ToolInvocation struct {
	RequestID string          `json:"requestId,omitempty"`
	Name      string          `json:"name"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    *ToolResult     `json:"result,omitempty"`
}

// Succeeded reports whether the invocation has a non-error result.
func (t ToolInvocation) Succeeded() bool {
	return t.Result != nil && !t.Result.IsError
}

// TranscriptSegment is one utterance. Segments are kept sorted by Sequence.
type TranscriptSegment struct {
	Sequence     int              `json:"sequence"`
	Speaker      string           `json:"speaker"`
	Message      string           `json:"message"`
	StartSeconds float64          `json:"startSeconds"`
	EndSeconds   float64          `json:"endSeconds"`
	Confidence   float64          `json:"confidence"`
	ToolCalls    []ToolInvocation `json:"toolCalls,omitempty"`
}

// Log levels used in the processing log.
const (
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// LogEntry is one append-only audit record.
type LogEntry struct {
	At      time.Time         `json:"at"`
	Stage   string            `json:"stage"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
	Stack   string            `json:"stack,omitempty"`
}

// NewLogEntry stamps an entry with the current UTC time.
func NewLogEntry(stage, level, message string) LogEntry {
	return LogEntry{At: time.Now().UTC(), Stage: stage, Level: level, Message: message}
}

// With returns a copy of the entry carrying key=value.
func (e LogEntry) With(key, value string) LogEntry {
	data := make(map[string]string, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Call is one phone conversation handled by the voice system.
type Call struct {
	ID                uuid.UUID           `json:"id"`
	ExternalCallID    string              `json:"externalCallId"`
	GatewayCallID     string              `json:"gatewayCallId"`
	AgentID           string              `json:"agentId"`
	StartedAt         *time.Time          `json:"startedAt,omitempty"`
	EndedAt           *time.Time          `json:"endedAt,omitempty"`
	DurationSeconds   int                 `json:"durationSeconds"`
	TerminationReason string              `json:"terminationReason"`
	CallSuccessful    bool                `json:"callSuccessful"`
	CostCents         int                 `json:"costCents"`
	AgentMessages     int                 `json:"agentMessages"`
	UserMessages      int                 `json:"userMessages"`
	TotalMessages     int                 `json:"totalMessages"`
	Summary           string              `json:"summary"`
	Transcript        []TranscriptSegment `json:"transcript"`
	RecordingURL      *string             `json:"recordingUrl,omitempty"`
	RawPayloadKey     *string             `json:"rawPayloadKey,omitempty"`

	Status          Status          `json:"status"`
	Decision        json.RawMessage `json:"decision,omitempty"`
	Extracted       json.RawMessage `json:"extracted,omitempty"`
	ClientID        *string         `json:"clientId,omitempty"`
	TicketIDs       []string        `json:"ticketIds"`
	CallbackID      *string         `json:"callbackId,omitempty"`
	AnalysisSummary *string         `json:"analysisSummary,omitempty"`
	ErrorMessage    *string         `json:"errorMessage,omitempty"`
	Attempts        int             `json:"attempts"`
	ProcessingLog   []LogEntry      `json:"processingLog"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// HasTickets reports whether tickets were already filed for this call.
func (c Call) HasTickets() bool {
	return len(c.TicketIDs) > 0
}

// HasTranscript reports whether at least one segment is stored.
func (c Call) HasTranscript() bool {
	return len(c.Transcript) > 0
}

// CallUpdate is a partial update. Nil fields are left untouched and AppendLog
// entries are added after the existing log.
type CallUpdate struct {
	Status            *Status
	GatewayCallID     *string
	AgentID           *string
	StartedAt         *time.Time
	EndedAt           *time.Time
	DurationSeconds   *int
	TerminationReason *string
	Summary           *string
	Transcript        []TranscriptSegment
	RecordingURL      *string
	RawPayloadKey     *string
	Decision          json.RawMessage
	Extracted         json.RawMessage
	ClientID          *string
	TicketIDs         []string
	CallbackID        *string
	AnalysisSummary   *string
	ErrorMessage      *string
	ClearError        bool
	IncrementAttempts bool
	CompletedAt       *time.Time
	AppendLog         []LogEntry
}

// ListStuckParams selects calls that stopped progressing.
type ListStuckParams struct {
	Statuses  []Status
	OlderThan time.Time
	Limit     int
}
