package calls

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Store used by tests and single-node runs.
type MemoryRepository struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]Call
	byExternal map[string]uuid.UUID
	now        func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:       make(map[uuid.UUID]Call),
		byExternal: make(map[string]uuid.UUID),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) FindByExternalID(_ context.Context, externalCallID string) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byExternal[externalCallID]
	if !ok {
		return nil, nil
	}
	c := cloneCall(r.byID[id])
	return &c, nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(c), nil
}

func (r *MemoryRepository) Insert(_ context.Context, call Call) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byExternal[call.ExternalCallID]; exists {
		return Call{}, ErrDuplicate
	}
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	if call.Status == "" {
		call.Status = StatusPendingSync
	}
	now := r.now()
	call.CreatedAt = now
	call.UpdatedAt = now
	if call.TicketIDs == nil {
		call.TicketIDs = []string{}
	}
	if call.ProcessingLog == nil {
		call.ProcessingLog = []LogEntry{}
	}
	stored := cloneCall(call)
	r.byID[call.ID] = stored
	r.byExternal[call.ExternalCallID] = call.ID
	return cloneCall(stored), nil
}

func (r *MemoryRepository) Update(_ context.Context, id uuid.UUID, u CallUpdate) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	c = cloneCall(c)
	applyUpdate(&c, u)
	c.UpdatedAt = r.now()
	r.byID[id] = c
	return cloneCall(c), nil
}

func (r *MemoryRepository) ListStuck(_ context.Context, p ListStuckParams) ([]Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Call
	for _, c := range r.byID {
		if !slices.Contains(p.Statuses, c.Status) {
			continue
		}
		if !p.OlderThan.IsZero() && !c.UpdatedAt.Before(p.OlderThan) {
			continue
		}
		out = append(out, cloneCall(c))
	}
	slices.SortFunc(out, func(a, b Call) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

func applyUpdate(c *Call, u CallUpdate) {
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.GatewayCallID != nil {
		c.GatewayCallID = *u.GatewayCallID
	}
	if u.AgentID != nil {
		c.AgentID = *u.AgentID
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		c.StartedAt = &t
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		c.EndedAt = &t
	}
	if u.DurationSeconds != nil {
		c.DurationSeconds = *u.DurationSeconds
	}
	if u.TerminationReason != nil {
		c.TerminationReason = *u.TerminationReason
	}
	if u.Summary != nil {
		c.Summary = *u.Summary
	}
	if u.Transcript != nil {
		c.Transcript = u.Transcript
	}
	if u.RecordingURL != nil {
		c.RecordingURL = stringPtr(*u.RecordingURL)
	}
	if u.RawPayloadKey != nil {
		c.RawPayloadKey = stringPtr(*u.RawPayloadKey)
	}
	if u.Decision != nil {
		c.Decision = u.Decision
	}
	if u.Extracted != nil {
		c.Extracted = u.Extracted
	}
	if u.ClientID != nil {
		c.ClientID = stringPtr(*u.ClientID)
	}
	if u.TicketIDs != nil {
		c.TicketIDs = u.TicketIDs
	}
	if u.CallbackID != nil {
		c.CallbackID = stringPtr(*u.CallbackID)
	}
	if u.AnalysisSummary != nil {
		c.AnalysisSummary = stringPtr(*u.AnalysisSummary)
	}
	if u.ClearError {
		c.ErrorMessage = nil
	}
	if u.ErrorMessage != nil {
		c.ErrorMessage = stringPtr(*u.ErrorMessage)
	}
	if u.IncrementAttempts {
		c.Attempts++
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		c.CompletedAt = &t
	}
	c.ProcessingLog = append(c.ProcessingLog, u.AppendLog...)
}

// cloneCall deep-copies a call so stored state cannot be mutated by callers.
func cloneCall(c Call) Call {
	out := c
	out.Transcript = cloneTranscript(c.Transcript)
	out.TicketIDs = slices.Clone(c.TicketIDs)
	out.ProcessingLog = slices.Clone(c.ProcessingLog)
	out.Decision = slices.Clone(c.Decision)
	out.Extracted = slices.Clone(c.Extracted)
	return out
}

func cloneTranscript(in []TranscriptSegment) []TranscriptSegment {
	if in == nil {
		return nil
	}
	// JSON round trip copies nested tool payloads
	data, err := json.Marshal(in)
	if err != nil {
		return slices.Clone(in)
	}
	var out []TranscriptSegment
	if err := json.Unmarshal(data, &out); err != nil {
		return slices.Clone(in)
	}
	return out
}

func stringPtr(s string) *string { return &s }
