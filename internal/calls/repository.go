package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const callColumns = `
	id, external_call_id, gateway_call_id, agent_id, started_at, ended_at, duration_seconds,
	termination_reason, call_successful, cost_cents, agent_messages, user_messages, total_messages,
	summary, transcript, recording_url, raw_payload_key, status, decision, extracted, client_id,
	ticket_ids, callback_id, analysis_summary, error_message, attempts, processing_log,
	created_at, updated_at, completed_at`

// Repository is the Postgres implementation of Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new calls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) FindByExternalID(ctx context.Context, externalCallID string) (*Call, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE external_call_id = $1`, externalCallID)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find call by external id: %w", err)
	}
	return &c, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Call, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

func (r *Repository) Insert(ctx context.Context, c Call) (Call, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = StatusPendingSync
	}
	transcript, err := json.Marshal(nonNilTranscript(c.Transcript))
	if err != nil {
		return Call{}, fmt.Errorf("encode transcript: %w", err)
	}
	logJSON, err := json.Marshal(nonNilLog(c.ProcessingLog))
	if err != nil {
		return Call{}, fmt.Errorf("encode processing log: %w", err)
	}
	ticketIDs := c.TicketIDs
	if ticketIDs == nil {
		ticketIDs = []string{}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO calls (
			id, external_call_id, gateway_call_id, agent_id, started_at, ended_at, duration_seconds,
			termination_reason, call_successful, cost_cents, agent_messages, user_messages, total_messages,
			summary, transcript, recording_url, raw_payload_key, status, ticket_ids, processing_log
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING `+callColumns,
		c.ID, c.ExternalCallID, c.GatewayCallID, c.AgentID, c.StartedAt, c.EndedAt, c.DurationSeconds,
		c.TerminationReason, c.CallSuccessful, c.CostCents, c.AgentMessages, c.UserMessages, c.TotalMessages,
		c.Summary, transcript, c.RecordingURL, c.RawPayloadKey, string(c.Status), ticketIDs, logJSON,
	)
	inserted, err := scanCall(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Call{}, ErrDuplicate
		}
		return Call{}, fmt.Errorf("insert call: %w", err)
	}
	return inserted, nil
}

func (r *Repository) Update(ctx context.Context, id uuid.UUID, u CallUpdate) (Call, error) {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	set := func(column string, value interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if u.Status != nil {
		set("status", string(*u.Status))
	}
	if u.GatewayCallID != nil {
		set("gateway_call_id", *u.GatewayCallID)
	}
	if u.AgentID != nil {
		set("agent_id", *u.AgentID)
	}
	if u.StartedAt != nil {
		set("started_at", *u.StartedAt)
	}
	if u.EndedAt != nil {
		set("ended_at", *u.EndedAt)
	}
	if u.DurationSeconds != nil {
		set("duration_seconds", *u.DurationSeconds)
	}
	if u.TerminationReason != nil {
		set("termination_reason", *u.TerminationReason)
	}
	if u.Summary != nil {
		set("summary", *u.Summary)
	}
	if u.Transcript != nil {
		data, err := json.Marshal(u.Transcript)
		if err != nil {
			return Call{}, fmt.Errorf("encode transcript: %w", err)
		}
		set("transcript", data)
	}
	if u.RecordingURL != nil {
		set("recording_url", *u.RecordingURL)
	}
	if u.RawPayloadKey != nil {
		set("raw_payload_key", *u.RawPayloadKey)
	}
	if u.Decision != nil {
		set("decision", []byte(u.Decision))
	}
	if u.Extracted != nil {
		set("extracted", []byte(u.Extracted))
	}
	if u.ClientID != nil {
		set("client_id", *u.ClientID)
	}
	if u.TicketIDs != nil {
		set("ticket_ids", u.TicketIDs)
	}
	if u.CallbackID != nil {
		set("callback_id", *u.CallbackID)
	}
	if u.AnalysisSummary != nil {
		set("analysis_summary", *u.AnalysisSummary)
	}
	if u.ErrorMessage != nil {
		set("error_message", *u.ErrorMessage)
	} else if u.ClearError {
		setClauses = append(setClauses, "error_message = NULL")
	}
	if u.IncrementAttempts {
		setClauses = append(setClauses, "attempts = attempts + 1")
	}
	if u.CompletedAt != nil {
		set("completed_at", *u.CompletedAt)
	}
	if len(u.AppendLog) > 0 {
		data, err := json.Marshal(u.AppendLog)
		if err != nil {
			return Call{}, fmt.Errorf("encode log entries: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("processing_log = processing_log || $%d::jsonb", argIdx))
		args = append(args, data)
		argIdx++
	}

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE calls SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), argIdx, callColumns)

	c, err := scanCall(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("update call: %w", err)
	}
	return c, nil
}

func (r *Repository) ListStuck(ctx context.Context, p ListStuckParams) ([]Call, error) {
	statuses := make([]string, 0, len(p.Statuses))
	for _, s := range p.Statuses {
		statuses = append(statuses, string(s))
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+callColumns+`
		FROM calls
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, statuses, p.OlderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck calls: %w", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck call: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCall(row pgx.Row) (Call, error) {
	var (
		c          Call
		status     string
		transcript []byte
		decision   []byte
		extracted  []byte
		logJSON    []byte
	)
	err := row.Scan(
		&c.ID, &c.ExternalCallID, &c.GatewayCallID, &c.AgentID, &c.StartedAt, &c.EndedAt, &c.DurationSeconds,
		&c.TerminationReason, &c.CallSuccessful, &c.CostCents, &c.AgentMessages, &c.UserMessages, &c.TotalMessages,
		&c.Summary, &transcript, &c.RecordingURL, &c.RawPayloadKey, &status, &decision, &extracted, &c.ClientID,
		&c.TicketIDs, &c.CallbackID, &c.AnalysisSummary, &c.ErrorMessage, &c.Attempts, &logJSON,
		&c.CreatedAt, &c.UpdatedAt, &c.CompletedAt,
	)
	if err != nil {
		return Call{}, err
	}
	c.Status = Status(status)
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &c.Transcript); err != nil {
			return Call{}, fmt.Errorf("decode transcript: %w", err)
		}
	}
	if len(logJSON) > 0 {
		if err := json.Unmarshal(logJSON, &c.ProcessingLog); err != nil {
			return Call{}, fmt.Errorf("decode processing log: %w", err)
		}
	}
	if len(decision) > 0 {
		c.Decision = json.RawMessage(decision)
	}
	if len(extracted) > 0 {
		c.Extracted = json.RawMessage(extracted)
	}
	return c, nil
}

func nonNilTranscript(in []TranscriptSegment) []TranscriptSegment {
	if in == nil {
		return []TranscriptSegment{}
	}
	return in
}

func nonNilLog(in []LogEntry) []LogEntry {
	if in == nil {
		return []LogEntry{}
	}
	return in
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryRepository)(nil)
)
