package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	"callflow_backend/internal/calls"
	"callflow_backend/internal/crm"
	"callflow_backend/internal/decision"
	"callflow_backend/internal/extractor"
	"callflow_backend/platform/logger"
)

type fakeCRM struct {
	mu          sync.Mutex
	clientErr   error
	ticketErrs  map[int]error
	callbackErr error
	clients     []crm.NewClient
	tickets     []crm.Ticket
	rellamadas  []crm.Rellamada
	ticketCalls int
}

func (f *fakeCRM) CreateClient(_ context.Context, in crm.NewClient) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients = append(f.clients, in)
	if f.clientErr != nil {
		return "", f.clientErr
	}
	return fmt.Sprintf("CLI-%d", len(f.clients)), nil
}

func (f *fakeCRM) CreateTicket(_ context.Context, in crm.Ticket) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.ticketCalls
	f.ticketCalls++
	f.tickets = append(f.tickets, in)
	if err := f.ticketErrs[idx]; err != nil {
		return "", err
	}
	return fmt.Sprintf("TCK-%d", idx+1), nil
}

func (f *fakeCRM) CreateRellamada(_ context.Context, in crm.Rellamada) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rellamadas = append(f.rellamadas, in)
	if f.callbackErr != nil {
		return "", f.callbackErr
	}
	return "REL-1", nil
}

type failingStore struct{}

func (failingStore) Update(context.Context, uuid.UUID, calls.CallUpdate) (calls.Call, error) {
	return calls.Call{}, errors.New("database is down")
}

func newCall(t *testing.T, store *calls.MemoryRepository) calls.Call {
	t.Helper()
	call, err := store.Insert(context.Background(), calls.Call{ExternalCallID: "conv_abc123456789", Summary: "Cliente pide presupuesto"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return call
}

func baseDecision() decision.Decision {
	return decision.Decision{
		PrimaryIncident: decision.Incident{Type: "new_contract", Reason: "quote_request", LineOfBusiness: "home", Confidence: 0.9},
		Client:          decision.ClientDecision{Disposition: decision.DispositionUnknown, DataSource: decision.DataSourceExtracted},
		Actions:         decision.Actions{CreateTicket: true},
		Priority:        decision.PriorityMedium,
		Meta:            decision.Meta{Source: decision.SourceLLM},
	}
}

func TestExecuteExistingClientFilesTicket(t *testing.T) {
	store := calls.NewMemoryRepository()
	call := newCall(t, store)
	fake := &fakeCRM{}
	ex := New(fake, store, nil, logger.Discard())

	d := baseDecision()
	d.Client = decision.ClientDecision{Disposition: decision.DispositionExisting, UseExistingClient: true, ExistingClientID: "701795F00"}

	res := ex.Execute(context.Background(), d, extractor.ClientData{}, call)

	if !res.Success || res.Client.Action != ClientExisting {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(fake.clients) != 0 {
		t.Fatal("existing client must not be created")
	}
	if len(fake.tickets) != 1 {
		t.Fatalf("expected one ticket, got %d", len(fake.tickets))
	}
	tk := fake.tickets[0]
	if tk.ClientID != "701795F00" || tk.TypeCode != "01" || tk.ReasonCode != "0101" || tk.LineCode != "HOG" {
		t.Fatalf("unexpected ticket %+v", tk)
	}

	stored, _ := store.GetByID(context.Background(), call.ID)
	if stored.ClientID == nil || *stored.ClientID != "701795F00" {
		t.Fatalf("client id not recorded: %+v", stored.ClientID)
	}
	if len(stored.TicketIDs) != 1 || stored.TicketIDs[0] != "TCK-1" {
		t.Fatalf("ticket ids not recorded: %v", stored.TicketIDs)
	}
	if len(stored.ProcessingLog) != 2 {
		t.Fatalf("expected client and ticket log entries, got %d", len(stored.ProcessingLog))
	}
}

func TestExecuteAbortsWhenRequiredLeadCreationFails(t *testing.T) {
	store := calls.NewMemoryRepository()
	call := newCall(t, store)
	fake := &fakeCRM{clientErr: crm.ErrRejected}
	ex := New(fake, store, nil, logger.Discard())

	d := baseDecision()
	d.Client = decision.ClientDecision{Disposition: decision.DispositionLead, Name: "Luis Pérez Gil", Phone: "612345678", LeadID: "L-1"}
	d.Actions.CreateClient = true
	d.FollowUp = decision.FollowUp{IsFollowUp: true, RelatedTicketID: "T-9"}
	d.Actions.CreateCallback = true

	res := ex.Execute(context.Background(), d, extractor.ClientData{}, call)

	if res.Success || !res.Aborted {
		t.Fatalf("expected aborted failure, got %+v", res)
	}
	if fake.ticketCalls != 0 {
		t.Fatalf("expected zero ticket attempts, got %d", fake.ticketCalls)
	}
	if len(fake.rellamadas) != 0 {
		t.Fatal("expected no rellamada attempts")
	}
	if len(fake.clients) != 1 || fake.clients[0].GivenName != "Luis" || fake.clients[0].SecondSurname != "Gil" {
		t.Fatalf("unexpected client payload %+v", fake.clients)
	}
}

func TestExecuteTicketsAreIndependent(t *testing.T) {
	store := calls.NewMemoryRepository()
	call := newCall(t, store)
	fake := &fakeCRM{ticketErrs: map[int]error{1: errors.New("timeout")}}
	ex := New(fake, store, nil, logger.Discard())

	d := baseDecision()
	d.Client = decision.ClientDecision{Disposition: decision.DispositionExisting, UseExistingClient: true, ExistingClientID: "C1"}
	d.SecondaryIncidents = []decision.Incident{
		{Type: "billing", Reason: "receipt_inquiry"},
		{Type: "documentation", Reason: "policy_copy"},
	}
	d.Actions.Tickets = []decision.TicketBinding{{}, {}, {PolicyNumber: "POL-3", ClientID: "C3"}}

	res := ex.Execute(context.Background(), d, extractor.ClientData{}, call)

	if res.Success {
		t.Fatal("one failed ticket must clear Success")
	}
	if len(res.Tickets) != 3 || fake.ticketCalls != 3 {
		t.Fatalf("every ticket must be attempted, got %d results / %d calls", len(res.Tickets), fake.ticketCalls)
	}
	if ids := res.TicketIDs(); len(ids) != 2 || ids[0] != "TCK-1" || ids[1] != "TCK-3" {
		t.Fatalf("unexpected ticket ids %v", ids)
	}
	if !res.PartialFailure() {
		t.Fatal("expected partial failure")
	}
	if fake.tickets[2].PolicyNumber != "POL-3" || fake.tickets[2].ClientID != "C3" {
		t.Fatalf("binding override ignored: %+v", fake.tickets[2])
	}
}

func TestExecuteTicketCountCapsIncidents(t *testing.T) {
	store := calls.NewMemoryRepository()
	call := newCall(t, store)
	fake := &fakeCRM{}
	ex := New(fake, store, nil, logger.Discard())

	d := baseDecision()
	d.Client = decision.ClientDecision{Disposition: decision.DispositionExisting, UseExistingClient: true, ExistingClientID: "C1"}
	d.SecondaryIncidents = []decision.Incident{{Type: "billing", Reason: "receipt_inquiry"}}
	d.Actions.TicketCount = 1

	ex.Execute(context.Background(), d, extractor.ClientData{}, call)
	if fake.ticketCalls != 1 {
		t.Fatalf("expected one ticket, got %d", fake.ticketCalls)
	}
}

func TestExecuteFallbackClientID(t *testing.T) {
	store := calls.NewMemoryRepository()
	call := newCall(t, store)
	fake := &fakeCRM{}
	ex := New(fake, store, nil, logger.Discard())

	d := baseDecision()
	res := ex.Execute(context.Background(), d, extractor.ClientData{Phone: "+34 612 34 56 78"}, call)

	if res.Client.Action != ClientFallback || !res.Client.Fallback {
		t.Fatalf("expected fallback client, got %+v", res.Client)
	}
	if res.Client.ClientID != "TMP-23456789-5678" {
		t.Fatalf("unexpected fallback id %q", res.Client.ClientID)
	}
	if len(fake.clients) != 0 {
		t.Fatal("fallback must not create a client")
	}
	if fake.tickets[0].ClientID != res.Client.ClientID {
		t.Fatal("ticket must reference the fallback id")
	}
}

func TestExecuteReusesRecordedClient(t *testing.T) {
	d := baseDecision()
	d.Client = decision.ClientDecision{Disposition: decision.DispositionLead, Name: "Luis Pérez Gil", Phone: "612345678"}
	d.Actions.CreateClient = true

	cases := []struct {
		name        string
		recorded    string
		wantCreated int
		wantAction  string
	}{
		{name: "crm client", recorded: "CLI-7", wantCreated: 0, wantAction: ClientExisting},
		{name: "fallback id", recorded: "TMP-23456789-5678", wantCreated: 1, wantAction: ClientCreatedFromLead},
		{name: "none", recorded: "", wantCreated: 1, wantAction: ClientCreatedFromLead},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := calls.NewMemoryRepository()
			call := newCall(t, store)
			if tc.recorded != "" {
				call.ClientID = &tc.recorded
			}
			fake := &fakeCRM{}
			ex := New(fake, store, nil, logger.Discard())

			res := ex.Execute(context.Background(), d, extractor.ClientData{}, call)
			if len(fake.clients) != tc.wantCreated || res.Client.Action != tc.wantAction {
				t.Fatalf("created=%d action=%s, want %d %s", len(fake.clients), res.Client.Action, tc.wantCreated, tc.wantAction)
			}
			if tc.wantCreated == 0 && fake.tickets[0].ClientID != tc.recorded {
				t.Fatalf("ticket bound to %q", fake.tickets[0].ClientID)
			}
		})
	}
}

func TestExecuteNewClientCreatedWhenDataSuffices(t *testing.T) {
	store := calls.NewMemoryRepository()
	call := newCall(t, store)
	fake := &fakeCRM{}
	ex := New(fake, store, nil, logger.Discard())

	d := baseDecision()
	d.Client = decision.ClientDecision{Disposition: decision.DispositionNew, Name: "María de la Cruz López", Email: "maria@example.com"}

	res := ex.Execute(context.Background(), d, extractor.ClientData{}, call)
	if res.Client.Action != ClientCreated || res.Client.ClientID != "CLI-1" {
		t.Fatalf("unexpected client result %+v", res.Client)
	}
	got := fake.clients[0]
	if got.GivenName != "María" || got.FirstSurname != "de la Cruz" || got.SecondSurname != "López" {
		t.Fatalf("unexpected name split %+v", got)
	}
}

func TestExecuteCallbackOnlyWithRelatedTicket(t *testing.T) {
	store := calls.NewMemoryRepository()
	call := newCall(t, store)
	fake := &fakeCRM{}
	ex := New(fake, store, nil, logger.Discard())

	d := baseDecision()
	d.Client = decision.ClientDecision{Disposition: decision.DispositionExisting, UseExistingClient: true, ExistingClientID: "C1"}
	d.Actions.CreateCallback = true

	res := ex.Execute(context.Background(), d, extractor.ClientData{}, call)
	if res.Callback != nil || len(fake.rellamadas) != 0 {
		t.Fatal("callback without related ticket must not be created")
	}

	d.FollowUp = decision.FollowUp{IsFollowUp: true, RelatedTicketID: "T-77"}
	res = ex.Execute(context.Background(), d, extractor.ClientData{}, call)
	if res.CallbackID() != "REL-1" || fake.rellamadas[0].RelatedTicketID != "T-77" || fake.rellamadas[0].ClientID != "C1" {
		t.Fatalf("unexpected callback %+v / %+v", res.Callback, fake.rellamadas)
	}
	if !strings.Contains(fake.tickets[len(fake.tickets)-1].Notes, "T-77") {
		t.Fatal("follow-up ticket notes must reference the related ticket")
	}
}

func TestExecuteNoSideEffectsForFallbackDecision(t *testing.T) {
	store := calls.NewMemoryRepository()
	call := newCall(t, store)
	fake := &fakeCRM{}
	ex := New(fake, store, nil, logger.Discard())

	res := ex.Execute(context.Background(), decision.Fallback("timeout"), extractor.ClientData{ClientID: "X"}, call)
	if !res.Success || res.Client.Action != ClientNone {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(fake.clients)+fake.ticketCalls+len(fake.rellamadas) != 0 {
		t.Fatal("fallback decision must not touch the CRM")
	}
}

func TestExecuteRecordUpdateFailureKeepsResult(t *testing.T) {
	fake := &fakeCRM{}
	ex := New(fake, failingStore{}, nil, logger.Discard())

	d := baseDecision()
	d.Client = decision.ClientDecision{Disposition: decision.DispositionExisting, UseExistingClient: true, ExistingClientID: "C1"}

	res := ex.Execute(context.Background(), d, extractor.ClientData{}, calls.Call{ExternalCallID: "conv_x"})
	if !res.Success || len(res.TicketIDs()) != 1 {
		t.Fatalf("record failure must not invalidate steps, got %+v", res)
	}
	if res.RecordUpdateError == "" {
		t.Fatal("record failure must be reported")
	}
}

func TestTicketNotesAreCapped(t *testing.T) {
	d := baseDecision()
	d.PrimaryIncident.Notes = strings.Repeat("palabra ", 400)
	notes := ticketNotes(d.PrimaryIncident, d, calls.Call{ExternalCallID: "conv_1"})
	if n := utf8.RuneCountInString(notes); n > crm.MaxNotesLength {
		t.Fatalf("notes have %d runes", n)
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in                   string
		given, first, second string
	}{
		{in: "JAVIER GARCIA RODRIGUEZ", given: "JAVIER", first: "GARCIA", second: "RODRIGUEZ"},
		{in: "Ana María Ruiz Soto", given: "Ana María", first: "Ruiz", second: "Soto"},
		{in: "Luis Pérez", given: "Luis", first: "Pérez"},
		{in: "Cher", given: "Cher"},
		{in: "José de San Martín", given: "José", first: "de San Martín"},
	}
	for _, tt := range tests {
		g, f, s := splitName(tt.in)
		if g != tt.given || f != tt.first || s != tt.second {
			t.Fatalf("splitName(%q) = %q, %q, %q", tt.in, g, f, s)
		}
	}
}
