// Package processor drives one call through the pipeline: durable accept,
// transcript sync, classification, client extraction, CRM side effects and the
// final state write.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"callflow_backend/internal/calls"
	"callflow_backend/internal/decision"
	"callflow_backend/internal/events"
	"callflow_backend/internal/executor"
	"callflow_backend/internal/extractor"
	"callflow_backend/internal/voicegateway"
	"callflow_backend/platform/lock"
	"callflow_backend/platform/logger"
)

// ErrCallBusy is returned when another worker holds the call's lock.
var ErrCallBusy = errors.New("call is being processed")

// Pipeline stages recorded in the processing log.
const (
	StageAccept   = "accept"
	StageFetch    = "fetch"
	StageDecide   = "decide"
	StageExtract  = "extract"
	StageExecute  = "execute"
	StageFinalize = "finalize"
)

const defaultLockTTL = 5 * time.Minute

// ConversationFetcher loads a conversation from the voice gateway.
type ConversationFetcher interface {
	FetchConversation(ctx context.Context, conversationID string) (voicegateway.Conversation, error)
}

// ActionExecutor performs the CRM side effects of a decision.
type ActionExecutor interface {
	Execute(ctx context.Context, d decision.Decision, data extractor.ClientData, call calls.Call) executor.Result
}

// PayloadArchive keeps the raw webhook body.
type PayloadArchive interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

// Deps are the collaborators of a Processor. Gateway and Archive are optional.
type Deps struct {
	Store     calls.Store
	Locker    lock.Locker
	Gateway   ConversationFetcher
	Decider   decision.Decider
	Extractor *extractor.Extractor
	Executor  ActionExecutor
	Archive   PayloadArchive
	EventBus  events.Bus
	Log       *logger.Logger
}

// Config tunes locking and the stuck-call sweep.
type Config struct {
	LockTTL         time.Duration
	ReprocessDelay  time.Duration
	StuckOlderThan  time.Duration
	StuckBatchLimit int
}

// Processor is the call state machine.
type Processor struct {
	store     calls.Store
	locker    lock.Locker
	gateway   ConversationFetcher
	decider   decision.Decider
	extractor *extractor.Extractor
	executor  ActionExecutor
	archive   PayloadArchive
	eventBus  events.Bus
	log       *logger.Logger
	cfg       Config
	now       func() time.Time
}

// New wires a Processor. A nil locker falls back to an in-process one.
func New(deps Deps, cfg Config) (*Processor, error) {
	if deps.Store == nil {
		return nil, errors.New("processor: store is required")
	}
	if deps.Decider == nil {
		return nil, errors.New("processor: decider is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("processor: executor is required")
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	if deps.Extractor == nil {
		deps.Extractor = extractor.New(extractor.DefaultConfig())
	}
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &Processor{
		store:     deps.Store,
		locker:    deps.Locker,
		gateway:   deps.Gateway,
		decider:   deps.Decider,
		extractor: deps.Extractor,
		executor:  deps.Executor,
		archive:   deps.Archive,
		eventBus:  deps.EventBus,
		log:       deps.Log,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Intake is one webhook delivery ready to be stored.
type Intake struct {
	Call       calls.Call
	RawPayload []byte
}

// AcceptResult reports what Accept did with a delivery.
type AcceptResult struct {
	Call      calls.Call
	Duplicate bool
	Resumed   bool
}

// ProcessOptions controls one pipeline run.
type ProcessOptions struct {
	// Force re-runs the executor even when tickets already exist and
	// re-processes completed calls.
	Force bool
}

func lockKey(externalCallID string) string {
	return "calls:lock:" + externalCallID
}

func (p *Processor) acquire(ctx context.Context, externalCallID string) (lock.Lease, error) {
	lease, err := p.locker.Acquire(ctx, lockKey(externalCallID), p.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, ErrCallBusy
	}
	if err != nil {
		return nil, fmt.Errorf("acquire call lock: %w", err)
	}
	return lease, nil
}

func (p *Processor) release(lease lock.Lease, externalCallID string) {
	if err := lease.Release(context.Background()); err != nil {
		p.log.Warn("processor: failed to release call lock", "callId", externalCallID, "error", err)
	}
}

// Accept durably stores a delivery. A completed call is returned unchanged and
// a call that never finished is resumed instead of duplicated.
func (p *Processor) Accept(ctx context.Context, in Intake) (AcceptResult, error) {
	externalID := in.Call.ExternalCallID
	if externalID == "" {
		return AcceptResult{}, errors.New("processor: external call id is required")
	}
	log := p.log.WithCall(externalID)

	lease, err := p.acquire(ctx, externalID)
	if err != nil {
		return AcceptResult{}, err
	}
	defer p.release(lease, externalID)

	existing, err := p.store.FindByExternalID(ctx, externalID)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("find call: %w", err)
	}
	if existing != nil {
		return p.acceptExisting(ctx, *existing, in, log)
	}

	call := in.Call
	call.Status = calls.StatusPendingSync
	call.ProcessingLog = append(call.ProcessingLog, calls.NewLogEntry(StageAccept, calls.LogInfo, "call accepted").
		With("segments", strconv.Itoa(len(call.Transcript))))
	if key, ok := p.archivePayload(ctx, externalID, in.RawPayload, log); ok {
		call.RawPayloadKey = &key
	}

	stored, err := p.store.Insert(ctx, call)
	if errors.Is(err, calls.ErrDuplicate) {
		// another instance inserted between our lookup and insert
		existing, findErr := p.store.FindByExternalID(ctx, externalID)
		if findErr != nil || existing == nil {
			return AcceptResult{}, fmt.Errorf("insert call: %w", err)
		}
		return p.acceptExisting(ctx, *existing, in, log)
	}
	if err != nil {
		return AcceptResult{}, fmt.Errorf("insert call: %w", err)
	}

	log.Info("processor: call accepted", "id", stored.ID, "segments", len(stored.Transcript))
	p.publish(ctx, events.CallAccepted{
		BaseEvent:      events.NewBaseEvent(),
		CallID:         stored.ID,
		ExternalCallID: externalID,
	})
	return AcceptResult{Call: stored}, nil
}

func (p *Processor) acceptExisting(ctx context.Context, existing calls.Call, in Intake, log *logger.Logger) (AcceptResult, error) {
	if existing.Status == calls.StatusCompleted {
		log.Info("processor: duplicate delivery of completed call ignored", "id", existing.ID)
		return AcceptResult{Call: existing, Duplicate: true}, nil
	}

	upd := calls.CallUpdate{
		AppendLog: []calls.LogEntry{calls.NewLogEntry(StageAccept, calls.LogInfo, "delivery received for unfinished call").
			With("status", string(existing.Status))},
	}
	if !existing.HasTranscript() && len(in.Call.Transcript) > 0 {
		upd.Transcript = in.Call.Transcript
	}
	updated, err := p.store.Update(ctx, existing.ID, upd)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("update call: %w", err)
	}

	log.Info("processor: resuming unfinished call", "id", existing.ID, "status", existing.Status)
	p.publish(ctx, events.CallAccepted{
		BaseEvent:      events.NewBaseEvent(),
		CallID:         updated.ID,
		ExternalCallID: updated.ExternalCallID,
		Resumed:        true,
	})
	return AcceptResult{Call: updated, Resumed: true}, nil
}

func (p *Processor) archivePayload(ctx context.Context, externalID string, raw []byte, log *logger.Logger) (string, bool) {
	if p.archive == nil || len(raw) == 0 {
		return "", false
	}
	key := fmt.Sprintf("webhooks/%s/%s.json", p.now().Format("2006/01/02"), externalID)
	if err := p.archive.Put(ctx, key, "application/json", raw); err != nil {
		log.ExternalCallFailed("object storage", "archive payload", err)
		return "", false
	}
	return key, true
}

// Reprocess re-enters the pipeline for one call.
func (p *Processor) Reprocess(ctx context.Context, externalCallID string, force bool) (calls.Call, error) {
	return p.Process(ctx, externalCallID, ProcessOptions{Force: force})
}

// Process runs the pipeline for a stored call. A completed call is returned
// as-is unless Force is set. Any error or panic leaves the call failed.
func (p *Processor) Process(ctx context.Context, externalCallID string, opts ProcessOptions) (call calls.Call, err error) {
	log := p.log.WithCall(externalCallID)

	lease, err := p.acquire(ctx, externalCallID)
	if err != nil {
		return calls.Call{}, err
	}
	defer p.release(lease, externalCallID)

	found, err := p.store.FindByExternalID(ctx, externalCallID)
	if err != nil {
		return calls.Call{}, fmt.Errorf("find call: %w", err)
	}
	if found == nil {
		return calls.Call{}, calls.ErrNotFound
	}
	call = *found

	if call.Status == calls.StatusCompleted && !opts.Force {
		log.Info("processor: call already completed", "id", call.ID)
		return call, nil
	}

	call, err = p.start(ctx, call, opts)
	if err != nil {
		return calls.Call{}, err
	}

	stage := StageFetch
	defer func() {
		if r := recover(); r != nil {
			perr := fmt.Errorf("panic: %v", r)
			log.Error("processor: pipeline panicked", "stage", stage, "error", perr)
			call = p.markFailed(ctx, call, stage, perr, string(debug.Stack()))
			err = perr
		}
	}()

	call, err = p.run(ctx, call, opts, &stage, log)
	if err != nil {
		log.Error("processor: pipeline failed", "stage", stage, "error", err)
		return p.markFailed(ctx, call, stage, err, ""), err
	}
	return call, nil
}

// start opens an attempt. Terminal calls move back to pending_sync.
func (p *Processor) start(ctx context.Context, call calls.Call, opts ProcessOptions) (calls.Call, error) {
	upd := calls.CallUpdate{IncrementAttempts: true}
	entry := calls.NewLogEntry(StageFetch, calls.LogInfo, "processing started").
		With("attempt", strconv.Itoa(call.Attempts+1))
	if opts.Force {
		entry = entry.With("force", "true")
	}
	if call.Status.Terminal() {
		next := calls.StatusPendingSync
		upd.Status = &next
		upd.ClearError = true
		entry = entry.With("from_status", string(call.Status))
	}
	upd.AppendLog = []calls.LogEntry{entry}

	updated, err := p.store.Update(ctx, call.ID, upd)
	if err != nil {
		return call, fmt.Errorf("start attempt: %w", err)
	}
	return updated, nil
}

func (p *Processor) run(ctx context.Context, call calls.Call, opts ProcessOptions, stage *string, log *logger.Logger) (calls.Call, error) {
	var err error

	*stage = StageFetch
	if call.Status == calls.StatusPendingSync {
		call, err = p.sync(ctx, call, log)
		if err != nil {
			return call, err
		}
	}

	*stage = StageDecide
	d := p.decider.Decide(ctx, call)
	if d.IsFallback() {
		log.Warn("processor: classification fell back", "warnings", d.Meta.Warnings)
	}

	*stage = StageExtract
	data := p.extractor.Extract(call, d.Client.Name)
	d.Augment(data)

	*stage = StageExecute
	var result *executor.Result
	if call.HasTickets() && !opts.Force {
		log.Info("processor: tickets already filed, skipping side effects", "tickets", call.TicketIDs)
	} else {
		r := p.executor.Execute(ctx, d, data, call)
		result = &r
		if !r.Success {
			log.Warn("processor: side effects incomplete", "aborted", r.Aborted, "partial", r.PartialFailure())
		}
	}

	*stage = StageFinalize
	return p.complete(ctx, call, d, data, result, opts, log)
}

// sync fills the transcript from the gateway when the webhook carried none and
// advances the call to pending_analysis.
func (p *Processor) sync(ctx context.Context, call calls.Call, log *logger.Logger) (calls.Call, error) {
	next := calls.StatusPendingAnalysis
	upd := calls.CallUpdate{Status: &next}

	if !call.HasTranscript() {
		if p.gateway == nil {
			return call, errors.New("transcript is empty and the voice gateway is not configured")
		}
		conversationID := call.GatewayCallID
		if conversationID == "" {
			conversationID = call.ExternalCallID
		}
		conv, err := p.gateway.FetchConversation(ctx, conversationID)
		if err != nil {
			return call, fmt.Errorf("fetch conversation: %w", err)
		}
		if len(conv.Transcript) == 0 {
			return call, errors.New("voice gateway returned an empty transcript")
		}
		applyConversation(&upd, call, conv)
		upd.AppendLog = append(upd.AppendLog, calls.NewLogEntry(StageFetch, calls.LogInfo, "transcript fetched from voice gateway").
			With("segments", strconv.Itoa(len(conv.Transcript))))
		log.Info("processor: transcript fetched", "segments", len(conv.Transcript))
	}

	updated, err := p.store.Update(ctx, call.ID, upd)
	if err != nil {
		return call, fmt.Errorf("advance to pending_analysis: %w", err)
	}
	return updated, nil
}

// applyConversation copies gateway data into upd, keeping values the webhook
// already provided.
func applyConversation(upd *calls.CallUpdate, call calls.Call, conv voicegateway.Conversation) {
	upd.Transcript = conv.Transcript
	d := conv.Details
	if call.GatewayCallID == "" && d.ConversationID != "" {
		upd.GatewayCallID = &d.ConversationID
	}
	if call.AgentID == "" && d.AgentID != "" {
		upd.AgentID = &d.AgentID
	}
	if call.StartedAt == nil {
		if t, ok := d.Started(); ok {
			upd.StartedAt = &t
		}
	}
	if call.EndedAt == nil {
		if t, ok := d.Ended(); ok {
			upd.EndedAt = &t
		}
	}
	if call.DurationSeconds == 0 && d.DurationSeconds > 0 {
		upd.DurationSeconds = &d.DurationSeconds
	}
	if call.Summary == "" && d.Summary != "" {
		upd.Summary = &d.Summary
	}
	if call.TerminationReason == "" && d.Status != "" {
		upd.TerminationReason = &d.Status
	}
	if call.RecordingURL == nil && d.RecordingURL != "" {
		upd.RecordingURL = &d.RecordingURL
	}
}

func (p *Processor) complete(ctx context.Context, call calls.Call, d decision.Decision, data extractor.ClientData, result *executor.Result, opts ProcessOptions, log *logger.Logger) (calls.Call, error) {
	decisionJSON, err := json.Marshal(d)
	if err != nil {
		return call, fmt.Errorf("encode decision: %w", err)
	}
	extractedJSON, err := json.Marshal(data)
	if err != nil {
		return call, fmt.Errorf("encode extracted data: %w", err)
	}

	status := calls.StatusCompleted
	completedAt := p.now()
	upd := calls.CallUpdate{
		Status:      &status,
		Decision:    decisionJSON,
		Extracted:   extractedJSON,
		ClearError:  true,
		CompletedAt: &completedAt,
	}

	entry := calls.NewLogEntry(StageFinalize, calls.LogInfo, "call completed").
		With("decision_source", d.Meta.Source).
		With("incident", d.PrimaryIncident.Type)
	if result != nil {
		// the executor already recorded its ids; repeat them so the final
		// write is complete even when its own update failed
		if id := result.Client.ClientID; id != "" {
			upd.ClientID = &id
		}
		if ids := result.TicketIDs(); len(ids) > 0 {
			upd.TicketIDs = mergeIDs(call.TicketIDs, ids)
		}
		if id := result.CallbackID(); id != "" {
			upd.CallbackID = &id
		}
		summary := result.AnalysisSummary
		upd.AnalysisSummary = &summary
		entry = entry.With("success", strconv.FormatBool(result.Success))
	} else {
		entry = entry.With("side_effects", "skipped")
	}
	if opts.Force {
		entry = entry.With("force", "true")
	}
	upd.AppendLog = []calls.LogEntry{entry}

	updated, err := p.store.Update(ctx, call.ID, upd)
	if err != nil {
		return call, fmt.Errorf("write completed state: %w", err)
	}

	log.Info("processor: call completed",
		"source", d.Meta.Source,
		"incident", d.PrimaryIncident.Type,
		"tickets", len(updated.TicketIDs))

	ev := events.CallCompleted{
		BaseEvent:      events.NewBaseEvent(),
		CallID:         updated.ID,
		ExternalCallID: updated.ExternalCallID,
		TicketIDs:      updated.TicketIDs,
		DecisionSource: d.Meta.Source,
	}
	if updated.ClientID != nil {
		ev.ClientID = *updated.ClientID
	}
	if updated.CallbackID != nil {
		ev.CallbackID = *updated.CallbackID
	}
	if result != nil {
		ev.PartialFailure = result.PartialFailure()
	}
	p.publish(ctx, ev)
	return updated, nil
}

// markFailed records the failure with a context that survives cancellation of
// the caller, so an aborted request still leaves an audit trail.
func (p *Processor) markFailed(ctx context.Context, call calls.Call, stage string, cause error, stack string) calls.Call {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	status := calls.StatusFailed
	entry := calls.NewLogEntry(stage, calls.LogError, msg)
	entry.Stack = stack

	upd := calls.CallUpdate{
		ErrorMessage: &msg,
		AppendLog:    []calls.LogEntry{entry},
	}
	if call.Status.CanTransition(status) {
		upd.Status = &status
	}

	updated, err := p.store.Update(ctx, call.ID, upd)
	if err != nil {
		p.log.WithCall(call.ExternalCallID).DatabaseError("mark call failed", err)
		updated = call
		updated.Status = status
		updated.ErrorMessage = &msg
	}

	p.publish(ctx, events.CallFailed{
		BaseEvent:      events.NewBaseEvent(),
		CallID:         call.ID,
		ExternalCallID: call.ExternalCallID,
		Stage:          stage,
		Error:          msg,
		Attempts:       updated.Attempts,
	})
	return updated
}

func (p *Processor) publish(ctx context.Context, event events.Event) {
	if p.eventBus == nil {
		return
	}
	p.eventBus.Publish(ctx, event)
}

func mergeIDs(existing, added []string) []string {
	seen := make(map[string]bool, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, id := range append(append([]string{}, existing...), added...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
