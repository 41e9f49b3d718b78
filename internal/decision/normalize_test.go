package decision

import (
	"errors"
	"strings"
	"testing"

	"callflow_backend/internal/extractor"
)

func mustParse(t *testing.T, text string) RawDecision {
	t.Helper()
	raw, err := ParseResponse(text)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	return raw
}

func TestParseResponseRejectsMissingStructure(t *testing.T) {
	cases := map[string]string{
		"prose":          "I think this is a new contract.",
		"broken json":    `{"primaryIncident": {"type": "claim"`,
		"no incident":    `{"client": {"disposition": "new"}}`,
		"no client":      `{"primaryIncident": {"type": "claim"}}`,
		"incident array": `{"primaryIncident": "claim", "client": {}}`,
	}
	for name, text := range cases {
		if _, err := ParseResponse(text); !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("%s: expected ErrMalformedResponse, got %v", name, err)
		}
	}
}

func TestParseResponseToleratesFencesAndSnakeCase(t *testing.T) {
	raw := mustParse(t, "```json\n{\"primary_incident\": {\"type\": \"claim\"}, \"client\": {\"disposition\": \"new\"}}\n```")
	d := Normalize(raw)
	if d.PrimaryIncident.Type != "claim" || d.PrimaryIncident.Reason != "claim_report" {
		t.Fatalf("unexpected incident %+v", d.PrimaryIncident)
	}
	if d.Client.Disposition != DispositionNew {
		t.Fatalf("unexpected disposition %s", d.Client.Disposition)
	}
}

func TestNormalizeMapsEnumsWithDefaults(t *testing.T) {
	raw := mustParse(t, `{
		"primaryIncident": {"type": "time_travel", "reason": "flux", "lineOfBusiness": "spaceship", "confidence": 85},
		"client": {"disposition": "alien", "dataSource": "telepathy"},
		"priority": "whenever"
	}`)
	d := Normalize(raw)

	if d.PrimaryIncident.Type != FallbackIncidentType || d.PrimaryIncident.Reason != FallbackReason {
		t.Fatalf("unknown type must map to the fallback incident, got %+v", d.PrimaryIncident)
	}
	if d.PrimaryIncident.LineOfBusiness != "" {
		t.Fatalf("unknown line of business must be empty, got %q", d.PrimaryIncident.LineOfBusiness)
	}
	if d.PrimaryIncident.Confidence != 0.85 {
		t.Fatalf("percent confidence must be scaled, got %v", d.PrimaryIncident.Confidence)
	}
	if d.Client.Disposition != DispositionUnknown {
		t.Fatalf("expected unknown disposition, got %s", d.Client.Disposition)
	}
	if d.Client.DataSource != DataSourceExtracted {
		t.Fatalf("expected extracted data source, got %s", d.Client.DataSource)
	}
	if d.Priority != PriorityMedium {
		t.Fatalf("expected medium priority, got %s", d.Priority)
	}
	if len(d.Meta.Warnings) < 5 {
		t.Fatalf("expected a warning per unknown value, got %v", d.Meta.Warnings)
	}
	if d.Meta.Source != SourceLLM {
		t.Fatalf("expected llm source, got %s", d.Meta.Source)
	}
}

func TestNormalizeExistingClientAndIncidents(t *testing.T) {
	raw := mustParse(t, `{
		"primaryIncident": {"type": "Nueva contratación", "reason": "quote_request", "lineOfBusiness": "hogar", "confidence": 0.92},
		"secondaryIncidents": [
			{"type": "new_contract", "reason": "quote_request", "lineOfBusiness": "hogar"},
			{"type": "billing", "reason": "receipt_inquiry", "policyNumber": "POL-1"}
		],
		"client": {"disposition": "existing", "existingClientId": 701795, "createNewClient": "true"},
		"followUp": {"isFollowUp": false},
		"actions": {"createTicket": true, "ticketCount": 7, "createCallback": true},
		"priority": "alta",
		"confidence": "0.8"
	}`)
	d := Normalize(raw)

	if d.PrimaryIncident.Type != "new_contract" || d.PrimaryIncident.LineOfBusiness != "home" {
		t.Fatalf("unexpected primary %+v", d.PrimaryIncident)
	}
	if len(d.SecondaryIncidents) != 1 || d.SecondaryIncidents[0].Type != "billing" {
		t.Fatalf("duplicate of the primary must be dropped, got %+v", d.SecondaryIncidents)
	}
	if !d.Client.UseExistingClient || d.Client.ExistingClientID != "701795" || d.Client.CreateNewClient {
		t.Fatalf("unexpected client %+v", d.Client)
	}
	if d.Actions.TicketCount != 2 {
		t.Fatalf("ticket count must be capped to incidents, got %d", d.Actions.TicketCount)
	}
	if d.Actions.CreateCallback {
		t.Fatal("callback without related ticket must be dropped")
	}
	if d.Priority != PriorityHigh || d.Meta.Confidence != 0.8 {
		t.Fatalf("unexpected priority/confidence %s %v", d.Priority, d.Meta.Confidence)
	}
	if got := d.Incidents(); len(got) != 2 || got[0].Type != "new_contract" {
		t.Fatalf("unexpected incident order %+v", got)
	}
}

func TestNormalizeMissingActionsUsesDefaults(t *testing.T) {
	raw := mustParse(t, `{
		"primaryIncident": {"type": "callback"},
		"client": {"disposition": "lead", "leadId": "L-1"},
		"followUp": {"isFollowUp": true, "relatedTicketId": "T-9"}
	}`)
	d := Normalize(raw)
	if !d.Actions.CreateTicket || !d.Actions.CreateClient || !d.Actions.CreateCallback {
		t.Fatalf("unexpected default actions %+v", d.Actions)
	}
}

func TestFallback(t *testing.T) {
	d := Fallback("timeout")
	if d.Client.Disposition != DispositionUnknown {
		t.Fatalf("unexpected disposition %s", d.Client.Disposition)
	}
	if d.PrimaryIncident.Type != "commercial_management" || d.PrimaryIncident.Reason != "general_inquiry" {
		t.Fatalf("unexpected incident %+v", d.PrimaryIncident)
	}
	if d.PrimaryIncident.Confidence != 0.3 {
		t.Fatalf("unexpected confidence %v", d.PrimaryIncident.Confidence)
	}
	if d.Actions.CreateClient || d.Actions.CreateTicket || d.Actions.CreateCallback {
		t.Fatalf("fallback must not request side effects: %+v", d.Actions)
	}
	if !d.IsFallback() || len(d.Meta.Warnings) != 1 || !strings.Contains(d.Meta.Warnings[0], "timeout") {
		t.Fatalf("unexpected meta %+v", d.Meta)
	}
}

func TestAugmentBindsExtractedClient(t *testing.T) {
	d := Normalize(mustParse(t, `{"primaryIncident": {"type": "new_contract"}, "client": {"disposition": "unknown"}}`))
	d.Augment(extractor.ClientData{
		ClientID:     "701795F00",
		Name:         "JAVIER GARCIA RODRIGUEZ",
		Phone:        "612345678",
		PolicyNumber: "POL-1",
		Source:       extractor.SourceTools,
		Match:        &extractor.MatchResult{Method: extractor.MethodSingle},
	})

	if !d.Client.UseExistingClient || d.Client.ExistingClientID != "701795F00" {
		t.Fatalf("expected existing client binding, got %+v", d.Client)
	}
	if d.Client.Disposition != DispositionExisting || d.Client.DataSource != DataSourceTools {
		t.Fatalf("unexpected disposition/source %+v", d.Client)
	}
	if d.Client.Name != "JAVIER GARCIA RODRIGUEZ" || d.PrimaryIncident.PolicyNumber != "POL-1" {
		t.Fatalf("expected gaps filled, got %+v / %+v", d.Client, d.PrimaryIncident)
	}
}

func TestAugmentKeepsDecisionOnConflict(t *testing.T) {
	d := Normalize(mustParse(t, `{"primaryIncident": {"type": "claim"}, "client": {"disposition": "existing", "existingClientId": "A1", "name": "Ana"}}`))
	d.Augment(extractor.ClientData{ClientID: "B2", Name: "Bea", Source: extractor.SourceTools})

	if d.Client.ExistingClientID != "A1" || d.Client.Name != "Ana" {
		t.Fatalf("decision must win, got %+v", d.Client)
	}
	if len(d.Meta.Warnings) == 0 {
		t.Fatal("expected a conflict warning")
	}
}
