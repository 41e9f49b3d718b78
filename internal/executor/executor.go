// Package executor turns a decision into ordered CRM side effects: client
// resolution, tickets, and the follow-up rellamada.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"callflow_backend/internal/calls"
	"callflow_backend/internal/crm"
	"callflow_backend/internal/decision"
	"callflow_backend/internal/extractor"
	"callflow_backend/platform/logger"
	"callflow_backend/platform/sanitize"
)

const stage = "execute"

// CRM is the subset of the CRM client the executor drives.
type CRM interface {
	CreateClient(ctx context.Context, in crm.NewClient) (string, error)
	CreateTicket(ctx context.Context, in crm.Ticket) (string, error)
	CreateRellamada(ctx context.Context, in crm.Rellamada) (string, error)
}

// CallUpdater persists execution results on the call.
type CallUpdater interface {
	Update(ctx context.Context, id uuid.UUID, upd calls.CallUpdate) (calls.Call, error)
}

// Executor performs the side effects a decision asks for.
type Executor struct {
	crm      CRM
	store    CallUpdater
	taxonomy *decision.Taxonomy
	log      *logger.Logger
}

// New creates an Executor. A nil taxonomy uses the embedded one.
func New(client CRM, store CallUpdater, taxonomy *decision.Taxonomy, log *logger.Logger) *Executor {
	if taxonomy == nil {
		taxonomy = decision.DefaultTaxonomy()
	}
	return &Executor{crm: client, store: store, taxonomy: taxonomy, log: log}
}

// Execute runs client resolution, ticket creation, rellamada creation and the
// record update, in that order. A failed client creation that the decision
// required aborts every later CRM step. Tickets are independent of each other.
func (e *Executor) Execute(ctx context.Context, d decision.Decision, data extractor.ClientData, call calls.Call) Result {
	log := e.log.WithCall(call.ExternalCallID)
	res := Result{Success: true}
	var entries []calls.LogEntry

	clientID, ok := e.resolveClient(ctx, d, data, call, &res)
	entries = append(entries, clientLogEntry(res.Client))
	if !ok {
		res.Success = false
		res.Aborted = true
		log.Warn("executor: client creation failed, skipping tickets and rellamada", "error", res.Client.Error)
	} else {
		if d.Actions.CreateTicket {
			for _, tr := range e.createTickets(ctx, d, clientID, call) {
				res.Tickets = append(res.Tickets, tr)
				entries = append(entries, ticketLogEntry(tr))
				if !tr.Succeeded() {
					res.Success = false
					log.Warn("executor: ticket failed", "index", tr.Index, "type", tr.IncidentType, "error", tr.Error)
				}
			}
		}
		if d.Actions.CreateCallback && d.FollowUp.IsFollowUp && d.FollowUp.RelatedTicketID != "" {
			cb := e.createCallback(ctx, d, clientID, call)
			res.Callback = &cb
			entry := calls.NewLogEntry(stage, calls.LogInfo, "rellamada created").
				With("related_ticket_id", cb.RelatedTicketID).With("callback_id", cb.CallbackID)
			if cb.Error != "" {
				res.Success = false
				entry = calls.NewLogEntry(stage, calls.LogError, "rellamada failed").
					With("related_ticket_id", cb.RelatedTicketID).With("error", cb.Error)
			}
			entries = append(entries, entry)
		}
	}

	res.AnalysisSummary = analysisSummary(d, res)
	res.RecordUpdateError = e.recordResult(ctx, call, res, entries, log)
	return res
}

// resolveClient returns the working client id. ok is false only when a
// required creation failed.
func (e *Executor) resolveClient(ctx context.Context, d decision.Decision, data extractor.ClientData, call calls.Call, res *Result) (string, bool) {
	if !d.Actions.CreateClient && !d.Actions.CreateTicket && !d.Actions.CreateCallback {
		res.Client = ClientResult{Action: ClientNone}
		return "", true
	}

	c := d.Client
	if c.UseExistingClient && c.ExistingClientID != "" {
		res.Client = ClientResult{Action: ClientExisting, ClientID: c.ExistingClientID}
		return c.ExistingClientID, true
	}
	// an earlier attempt already resolved a real CRM client for this call
	if call.ClientID != nil && *call.ClientID != "" && !IsFallbackClientID(*call.ClientID) {
		res.Client = ClientResult{Action: ClientExisting, ClientID: *call.ClientID}
		return *call.ClientID, true
	}

	name :=firstNonEmpty(c.Name, data.Name)
	phone := firstNonEmpty(c.Phone, data.Phone)
	email := firstNonEmpty(c.Email, data.Email)
	leadID, campaignID := c.LeadID, c.CampaignID
	if data.LeadInfo != nil {
		name = firstNonEmpty(name, data.LeadInfo.Name)
		phone = firstNonEmpty(phone, data.LeadInfo.Phone)
		email = firstNonEmpty(email, data.LeadInfo.Email)
		leadID = firstNonEmpty(leadID, data.LeadInfo.LeadID)
		campaignID = firstNonEmpty(campaignID, data.LeadInfo.CampaignID)
	}

	sufficient := name != "" && (phone != "" || email != "")
	requested := d.Actions.CreateClient || c.CreateNewClient
	create := false
	action := ClientCreated
	switch c.Disposition {
	case decision.DispositionLead:
		create, action = true, ClientCreatedFromLead
	case decision.DispositionNew, decision.DispositionExisting:
		create = sufficient
	default:
		create = sufficient && requested
	}

	if !create {
		id := fallbackClientID(call.ExternalCallID, phone)
		res.Client = ClientResult{Action: ClientFallback, ClientID: id, Fallback: true}
		return id, true
	}

	given, first, second := splitName(name)
	id, err := e.crm.CreateClient(ctx, crm.NewClient{
		CallID:        call.ExternalCallID,
		GivenName:     given,
		FirstSurname:  first,
		SecondSurname: second,
		Phone:         phone,
		Email:         email,
		LeadID:        leadID,
		CampaignID:    campaignID,
	})
	if err != nil {
		res.Client = ClientResult{Action: ClientFailed, Error: err.Error()}
		return "", false
	}
	res.Client = ClientResult{Action: action, ClientID: id}
	return id, true
}

func (e *Executor) createTickets(ctx context.Context, d decision.Decision, clientID string, call calls.Call) []TicketResult {
	incidents := d.Incidents()
	if n := d.Actions.TicketCount; n > 0 && n < len(incidents) {
		incidents = incidents[:n]
	}

	recording := ""
	if call.RecordingURL != nil {
		recording = *call.RecordingURL
	}

	results := make([]TicketResult, 0, len(incidents))
	for i, inc := range incidents {
		ticketClient := clientID
		policy := inc.PolicyNumber
		if i < len(d.Actions.Tickets) {
			if b := d.Actions.Tickets[i]; b.ClientID != "" {
				ticketClient = b.ClientID
			}
			if b := d.Actions.Tickets[i]; b.PolicyNumber != "" {
				policy = b.PolicyNumber
			}
		}

		typeCode, reasonCode, lineCode := e.codes(inc)
		tr := TicketResult{Index: i, IncidentType: inc.Type, Reason: inc.Reason, ClientID: ticketClient}
		id, err := e.crm.CreateTicket(ctx, crm.Ticket{
			ClientID:     ticketClient,
			CallID:       call.ExternalCallID,
			TypeCode:     typeCode,
			ReasonCode:   reasonCode,
			LineCode:     lineCode,
			PolicyNumber: policy,
			Notes:        ticketNotes(inc, d, call),
			Priority:     string(d.Priority),
			RecordingURL: recording,
		})
		if err != nil {
			tr.Error = err.Error()
		} else {
			tr.TicketID = id
		}
		results = append(results, tr)
	}
	return results
}

func (e *Executor) createCallback(ctx context.Context, d decision.Decision, clientID string, call calls.Call) CallbackResult {
	cb := CallbackResult{RelatedTicketID: d.FollowUp.RelatedTicketID}
	notes := firstNonEmpty(d.Summary, d.PrimaryIncident.Notes)
	notes = fmt.Sprintf("Rellamada sobre la incidencia %s. %s", d.FollowUp.RelatedTicketID, notes)
	id, err := e.crm.CreateRellamada(ctx, crm.Rellamada{
		ClientID:        clientID,
		CallID:          call.ExternalCallID,
		RelatedTicketID: d.FollowUp.RelatedTicketID,
		Notes:           capNotes(notes),
	})
	if err != nil {
		cb.Error = err.Error()
		return cb
	}
	cb.CallbackID = id
	return cb
}

func (e *Executor) codes(inc decision.Incident) (typeCode, reasonCode, lineCode string) {
	it, ok := e.taxonomy.IncidentType(inc.Type)
	if !ok {
		it, _ = e.taxonomy.IncidentType(decision.FallbackIncidentType)
	}
	reason, ok := it.Reason(inc.Reason)
	if !ok {
		reason = it.DefaultReason()
	}
	if inc.LineOfBusiness != "" {
		if lob, ok := e.taxonomy.LineOfBusiness(inc.LineOfBusiness); ok {
			lineCode = lob.Code
		}
	}
	return it.Code, reason.Code, lineCode
}

// recordResult writes ids, summary and log entries to the call. Failure is
// logged and reported but never undoes the CRM side effects.
func (e *Executor) recordResult(ctx context.Context, call calls.Call, res Result, entries []calls.LogEntry, log *logger.Logger) string {
	if e.store == nil {
		return ""
	}
	summary := res.AnalysisSummary
	upd := calls.CallUpdate{
		AnalysisSummary: &summary,
		AppendLog:       entries,
	}
	if id := res.Client.ClientID; id != "" {
		upd.ClientID = &id
	}
	if ids := res.TicketIDs(); len(ids) > 0 {
		upd.TicketIDs = mergeIDs(call.TicketIDs, ids)
	}
	if id := res.CallbackID(); id != "" {
		upd.CallbackID = &id
	}
	if _, err := e.store.Update(ctx, call.ID, upd); err != nil {
		log.DatabaseError("executor record update", err)
		return err.Error()
	}
	return ""
}

func ticketNotes(inc decision.Incident, d decision.Decision, call calls.Call) string {
	var parts []string
	if d.FollowUp.IsFollowUp && d.FollowUp.RelatedTicketID != "" {
		parts = append(parts, "Seguimiento de la incidencia "+d.FollowUp.RelatedTicketID+".")
	}
	if n := firstNonEmpty(inc.Notes, d.Summary, call.Summary); n != "" {
		parts = append(parts, n)
	}
	parts = append(parts, "Llamada "+call.ExternalCallID+".")
	return capNotes(strings.Join(parts, " "))
}

func capNotes(s string) string {
	return sanitize.Truncate(sanitize.Text(s), crm.MaxNotesLength)
}

func analysisSummary(d decision.Decision, res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s", d.PrimaryIncident.Type, d.PrimaryIncident.Reason)
	if n := len(d.SecondaryIncidents); n > 0 {
		fmt.Fprintf(&b, " +%d", n)
	}
	fmt.Fprintf(&b, "; client %s", res.Client.Action)
	if res.Client.ClientID != "" {
		fmt.Fprintf(&b, " %s", res.Client.ClientID)
	}
	if res.Aborted {
		b.WriteString("; aborted")
		return b.String()
	}
	if len(res.Tickets) > 0 {
		fmt.Fprintf(&b, "; tickets %d/%d", len(res.TicketIDs()), len(res.Tickets))
	}
	if res.Callback != nil {
		if res.Callback.CallbackID != "" {
			fmt.Fprintf(&b, "; rellamada %s", res.Callback.CallbackID)
		} else {
			b.WriteString("; rellamada failed")
		}
	}
	if d.IsFallback() {
		b.WriteString("; fallback decision")
	}
	return b.String()
}

func clientLogEntry(c ClientResult) calls.LogEntry {
	switch c.Action {
	case ClientFailed:
		return calls.NewLogEntry(stage, calls.LogError, "client creation failed").With("error", c.Error)
	case ClientFallback:
		return calls.NewLogEntry(stage, calls.LogWarn, "using fallback client id").With("client_id", c.ClientID)
	case ClientNone:
		return calls.NewLogEntry(stage, calls.LogInfo, "no client needed")
	}
	return calls.NewLogEntry(stage, calls.LogInfo, "client resolved").
		With("action", c.Action).With("client_id", c.ClientID)
}

func ticketLogEntry(t TicketResult) calls.LogEntry {
	if !t.Succeeded() {
		return calls.NewLogEntry(stage, calls.LogError, "ticket failed").
			With("incident_type", t.IncidentType).With("error", t.Error)
	}
	return calls.NewLogEntry(stage, calls.LogInfo, "ticket created").
		With("incident_type", t.IncidentType).With("ticket_id", t.TicketID)
}

func mergeIDs(existing, added []string) []string {
	out := make([]string, 0, len(existing)+len(added))
	seen := make(map[string]bool, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, id := range list {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
