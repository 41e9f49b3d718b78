// Package crm is the HTTP client for the partner CRM that owns clients,
// tickets and rellamadas.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"callflow_backend/platform/config"
	"callflow_backend/platform/logger"
	"callflow_backend/platform/phone"
)

const (
	// DateLayout is the CRM's timestamp format, in Madrid local time.
	DateLayout = "02/01/2006 15:04:05"
	// MaxNotesLength is the longest notes text the CRM accepts, in runes.
	MaxNotesLength = 1000

	crmLocation  = "Europe/Madrid"
	maxErrorBody = 512
)

var (
	// ErrRejected is returned when the CRM refuses a request.
	ErrRejected = errors.New("crm rejected request")
	// ErrNotConfigured is returned when no CRM endpoint is set up.
	ErrNotConfigured = errors.New("crm not configured")
)

// Client talks to the CRM REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	location   *time.Location
	now        func() time.Time
	newID      func() string
	log        *logger.Logger
}

// New creates a CRM client. Requests are rate limited to the configured
// requests per second.
func New(cfg config.CRMConfig, log *logger.Logger) *Client {
	loc, err := time.LoadLocation(crmLocation)
	if err != nil {
		loc = time.UTC
	}
	perSecond := cfg.GetCRMRatePerSecond()
	if perSecond <= 0 {
		perSecond = 5
	}
	timeout := cfg.GetCRMTimeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.GetCRMBaseURL(), "/"),
		apiKey:     cfg.GetCRMAPIKey(),
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		location:   loc,
		now:        time.Now,
		newID:      func() string { return strings.ToUpper(uuid.NewString()) },
		log:        log,
	}
}

// CreateClient registers a customer and returns the CRM client id.
func (c *Client) CreateClient(ctx context.Context, in NewClient) (string, error) {
	id := c.newID()
	req := clientRequest{
		FechaAlta:       c.timestamp(),
		IDCliente:       id,
		IDLlamada:       in.CallID,
		Nombre:          strings.TrimSpace(in.GivenName),
		PrimerApellido:  strings.TrimSpace(in.FirstSurname),
		SegundoApellido: strings.TrimSpace(in.SecondSurname),
		Telefono:        phone.NormalizeE164(in.Phone),
		Telefono2:       phone.NormalizeE164(in.SecondaryPhone),
		Email:           strings.TrimSpace(in.Email),
		IDLead:          in.LeadID,
		IDCampana:       in.CampaignID,
		Referido:        in.Referral,
	}
	return c.post(ctx, "/clientes", req, id)
}

// CreateTicket files an incident and returns the ticket id.
func (c *Client) CreateTicket(ctx context.Context, in Ticket) (string, error) {
	id := c.newID()
	req := ticketRequest{
		FechaHora:        c.timestamp(),
		IDCliente:        in.ClientID,
		IDLlamada:        in.CallID,
		IDTicket:         id,
		TipoIncidencia:   in.TypeCode,
		MotivoIncidencia: in.ReasonCode,
		Ramo:             in.LineCode,
		NumeroPoliza:     in.PolicyNumber,
		Notas:            in.Notes,
		Prioridad:        in.Priority,
		FicheroLlamada:   in.RecordingURL,
	}
	return c.post(ctx, "/tickets", req, id)
}

// CreateRellamada files a continuation of an open ticket.
func (c *Client) CreateRellamada(ctx context.Context, in Rellamada) (string, error) {
	id := c.newID()
	req := rellamadaRequest{
		FechaHora:           c.timestamp(),
		IDRellamada:         id,
		IDCliente:           in.ClientID,
		IDLlamada:           in.CallID,
		IDTicketRelacionado: in.RelatedTicketID,
		Notas:               in.Notes,
	}
	return c.post(ctx, "/rellamadas", req, id)
}

func (c *Client) timestamp() string {
	return c.now().In(c.location).Format(DateLayout)
}

// post sends payload and returns the id the CRM assigned, or generatedID when
// the CRM keeps ours.
func (c *Client) post(ctx context.Context, path string, payload any, generatedID string) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("crm rate limit: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.ExternalCallFailed("crm", path, err)
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		c.log.Error("crm upstream error", "status", resp.StatusCode, "path", path)
		return "", fmt.Errorf("upstream error: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		c.log.Warn("crm rejected request", "status", resp.StatusCode, "path", path, "body", snippet(raw))
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, snippet(raw))
	}

	var parsed apiResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
	}
	if parsed.Success != nil && !*parsed.Success {
		msg := parsed.Mensaje
		if msg == "" {
			msg = parsed.Error
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	if id := parsed.firstID(); id != "" {
		return id, nil
	}
	return generatedID, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
