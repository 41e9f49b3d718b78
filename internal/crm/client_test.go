package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callflow_backend/platform/logger"
)

type testConfig struct {
	baseURL string
}

func (c testConfig) GetCRMBaseURL() string        { return c.baseURL }
func (c testConfig) GetCRMAPIKey() string         { return "secret" }
func (c testConfig) GetCRMTimeout() time.Duration { return time.Second }
func (c testConfig) GetCRMRatePerSecond() float64 { return 1000 }
func (c testConfig) IsCRMEnabled() bool           { return c.baseURL != "" }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(testConfig{baseURL: srv.URL + "/"}, logger.Discard())
	c.now = func() time.Time { return time.Date(2025, 7, 1, 8, 30, 0, 0, time.UTC) }
	c.newID = func() string { return "GEN-1" }
	return c
}

func TestCreateTicketSendsSpanishPayload(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tickets" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"success":true,"idTicket":"T-100"}`))
	})

	id, err := c.CreateTicket(context.Background(), Ticket{
		ClientID:     "701795F00",
		CallID:       "conv_1",
		TypeCode:     "01",
		ReasonCode:   "0101",
		LineCode:     "HOG",
		Notes:        "Solicita presupuesto",
		RecordingURL: "https://rec/1.mp3",
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if id != "T-100" {
		t.Fatalf("expected CRM id, got %q", id)
	}

	want := map[string]string{
		"fechaHora":        "01/07/2025 10:30:00",
		"idCliente":        "701795F00",
		"idLlamada":        "conv_1",
		"idTicket":         "GEN-1",
		"tipoIncidencia":   "01",
		"motivoIncidencia": "0101",
		"ramo":             "HOG",
		"ficheroLlamada":   "https://rec/1.mp3",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %v, want %q", k, got[k], v)
		}
	}
	if _, ok := got["numeroPoliza"]; ok {
		t.Fatal("empty policy number must be omitted")
	}
}

func TestCreateClientKeepsGeneratedID(t *testing.T) {
	var got clientRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	})

	id, err := c.CreateClient(context.Background(), NewClient{
		CallID:        "conv_1",
		GivenName:     "Luis",
		FirstSurname:  "Pérez",
		SecondSurname: "Gil",
		Phone:         "612 345 678",
		LeadID:        "L-7",
	})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if id != "GEN-1" {
		t.Fatalf("expected generated id, got %q", id)
	}
	if got.Telefono != "+34612345678" || got.IDLead != "L-7" || got.PrimerApellido != "Pérez" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestCRMRejections(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"idCliente desconocido"}`, wantErr: ErrRejected},
		{name: "success false", status: http.StatusOK, body: `{"success":false,"mensaje":"duplicado"}`, wantErr: ErrRejected},
		{name: "server error", status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.CreateRellamada(context.Background(), Rellamada{ClientID: "1", RelatedTicketID: "T-1"})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && errors.Is(err, ErrRejected) {
				t.Fatalf("server errors are not rejections: %v", err)
			}
		})
	}
}

func TestUnconfiguredClient(t *testing.T) {
	c := New(testConfig{}, logger.Discard())
	if _, err := c.CreateTicket(context.Background(), Ticket{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
