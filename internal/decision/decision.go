// Package decision turns a call transcript into a typed business decision
// using one classification request per call.
package decision

import (
	"context"

	"callflow_backend/internal/calls"
)

// Disposition says who the caller is from the CRM's point of view.
type Disposition string

const (
	DispositionExisting Disposition = "existing"
	DispositionLead     Disposition = "lead"
	DispositionNew      Disposition = "new"
	DispositionUnknown  Disposition = "unknown"
)

// DataSource says what backs the client disposition.
type DataSource string

const (
	DataSourceTools      DataSource = "tools"
	DataSourceTranscript DataSource = "transcript"
	DataSourceExtracted  DataSource = "extracted"
)

// Priority of the resulting tickets.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Decision sources.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// Incident is one business action the call implies.
type Incident struct {
	Type           string  `json:"type"`
	Reason         string  `json:"reason"`
	LineOfBusiness string  `json:"lineOfBusiness,omitempty"`
	PolicyNumber   string  `json:"policyNumber,omitempty"`
	Confidence     float64 `json:"confidence"`
	Notes          string  `json:"notes,omitempty"`
}

// ClientDecision describes how the caller maps to a CRM client.
type ClientDecision struct {
	Disposition       Disposition `json:"disposition"`
	DataSource        DataSource  `json:"dataSource"`
	UseExistingClient bool        `json:"useExistingClient"`
	ExistingClientID  string      `json:"existingClientId,omitempty"`
	CreateNewClient   bool        `json:"createNewClient"`
	Name              string      `json:"name,omitempty"`
	Phone             string      `json:"phone,omitempty"`
	Email             string      `json:"email,omitempty"`
	LeadID            string      `json:"leadId,omitempty"`
	CampaignID        string      `json:"campaignId,omitempty"`
}

// FollowUp marks a call continuing an already open ticket.
type FollowUp struct {
	IsFollowUp      bool   `json:"isFollowUp"`
	RelatedTicketID string `json:"relatedTicketId,omitempty"`
}

// TicketBinding overrides client and policy for the ticket at the same index.
type TicketBinding struct {
	ClientID     string `json:"clientId,omitempty"`
	PolicyNumber string `json:"policyNumber,omitempty"`
}

// Actions are the side effects the executor should attempt.
type Actions struct {
	CreateClient   bool            `json:"createClient"`
	CreateTicket   bool            `json:"createTicket"`
	TicketCount    int             `json:"ticketCount,omitempty"`
	Tickets        []TicketBinding `json:"tickets,omitempty"`
	CreateCallback bool            `json:"createCallback"`
}

// Meta carries provenance of the decision.
type Meta struct {
	Confidence float64  `json:"confidence"`
	Rationale  string   `json:"rationale,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Source     string   `json:"source"`
	Model      string   `json:"model,omitempty"`
}

// Decision is the normalized classification of one call.
type Decision struct {
	PrimaryIncident    Incident       `json:"primaryIncident"`
	SecondaryIncidents []Incident     `json:"secondaryIncidents,omitempty"`
	Client             ClientDecision `json:"client"`
	FollowUp           FollowUp       `json:"followUp"`
	Actions            Actions        `json:"actions"`
	Priority           Priority       `json:"priority"`
	Summary            string         `json:"summary,omitempty"`
	Meta               Meta           `json:"meta"`
}

// Incidents returns the primary incident followed by the secondary ones.
func (d Decision) Incidents() []Incident {
	out := make([]Incident, 0, 1+len(d.SecondaryIncidents))
	out = append(out, d.PrimaryIncident)
	return append(out, d.SecondaryIncidents...)
}

// IsFallback reports whether the decision was produced without the model.
func (d Decision) IsFallback() bool {
	return d.Meta.Source == SourceFallback
}

// AddWarning records a warning once.
func (d *Decision) AddWarning(w string) {
	for _, existing := range d.Meta.Warnings {
		if existing == w {
			return
		}
	}
	d.Meta.Warnings = append(d.Meta.Warnings, w)
}

// Decider classifies calls.
type Decider interface {
	Decide(ctx context.Context, call calls.Call) Decision
}

// fallbackConfidence is the confidence given to the fallback incident.
const fallbackConfidence = 0.3

// Fallback returns the safe decision used when classification fails: unknown
// caller, a low-confidence general inquiry and no side effects.
func Fallback(reason string) Decision {
	d := Decision{
		PrimaryIncident: Incident{
			Type:       FallbackIncidentType,
			Reason:     FallbackReason,
			Confidence: fallbackConfidence,
		},
		Client: ClientDecision{
			Disposition: DispositionUnknown,
			DataSource:  DataSourceExtracted,
		},
		Priority: PriorityMedium,
		Meta: Meta{
			Confidence: fallbackConfidence,
			Source:     SourceFallback,
		},
	}
	if reason == "" {
		reason = "unspecified"
	}
	d.AddWarning("classification unavailable: " + reason)
	return d
}
