package executor

// Client resolution outcomes.
const (
	ClientNone            = "none"
	ClientExisting        = "existing"
	ClientCreated         = "created"
	ClientCreatedFromLead = "created_from_lead"
	ClientFallback        = "fallback"
	ClientFailed          = "failed"
)

// ClientResult reports how the working client id was obtained.
type ClientResult struct {
	Action   string `json:"action"`
	ClientID string `json:"clientId,omitempty"`
	Fallback bool   `json:"fallback"`
	Error    string `json:"error,omitempty"`
}

// TicketResult reports one ticket attempt.
type TicketResult struct {
	Index        int    `json:"index"`
	IncidentType string `json:"incidentType"`
	Reason       string `json:"reason"`
	ClientID     string `json:"clientId"`
	TicketID     string `json:"ticketId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Succeeded reports whether the CRM accepted the ticket.
func (t TicketResult) Succeeded() bool {
	return t.Error == "" && t.TicketID != ""
}

// CallbackResult reports the rellamada attempt.
type CallbackResult struct {
	RelatedTicketID string `json:"relatedTicketId"`
	CallbackID      string `json:"callbackId,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Result aggregates every step of one execution.
type Result struct {
	Success           bool            `json:"success"`
	Aborted           bool            `json:"aborted"`
	Client            ClientResult    `json:"client"`
	Tickets           []TicketResult  `json:"tickets,omitempty"`
	Callback          *CallbackResult `json:"callback,omitempty"`
	AnalysisSummary   string          `json:"analysisSummary"`
	RecordUpdateError string          `json:"recordUpdateError,omitempty"`
}

// TicketIDs returns the ids of tickets the CRM accepted, in order.
func (r Result) TicketIDs() []string {
	var ids []string
	for _, t := range r.Tickets {
		if t.Succeeded() {
			ids = append(ids, t.TicketID)
		}
	}
	return ids
}

// CallbackID returns the rellamada id when one was created.
func (r Result) CallbackID() string {
	if r.Callback == nil {
		return ""
	}
	return r.Callback.CallbackID
}

// PartialFailure reports whether some but not all steps succeeded.
func (r Result) PartialFailure() bool {
	return !r.Success && (len(r.TicketIDs()) > 0 || r.CallbackID() != "")
}
