package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"callflow_backend/platform/sanitize"
)

// ErrMalformedResponse is returned when the model output lacks the decision
// object or its required sections.
var ErrMalformedResponse = errors.New("malformed classification response")

// RawDecision is the model output before normalization. Keys are matched
// ignoring case and underscores, so snake_case and camelCase both work.
type RawDecision map[string]any

// ParseResponse pulls the JSON object out of the model text. Code fences and
// surrounding prose are tolerated; a missing primary incident or client
// section is not.
func ParseResponse(text string) (RawDecision, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object", ErrMalformedResponse)
	}
	var raw RawDecision
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if object(field(raw, "primaryIncident", "incident")) == nil {
		return nil, fmt.Errorf("%w: primaryIncident missing", ErrMalformedResponse)
	}
	if object(field(raw, "client", "cliente")) == nil {
		return nil, fmt.Errorf("%w: client missing", ErrMalformedResponse)
	}
	return raw, nil
}

// Normalize maps a raw decision onto the closed sets of the embedded taxonomy.
func Normalize(raw RawDecision) Decision {
	return NormalizeWith(DefaultTaxonomy(), raw)
}

// NormalizeWith maps every field of raw through t. Unknown values fall back to
// documented defaults and leave a warning; nothing from raw reaches the
// decision unchecked.
func NormalizeWith(t *Taxonomy, raw RawDecision) Decision {
	d := Decision{Meta: Meta{Source: SourceLLM}}

	d.PrimaryIncident = normalizeIncident(t, object(field(raw, "primaryIncident", "incident")), "primaryIncident", &d)
	for i, item := range list(field(raw, "secondaryIncidents", "additionalIncidents")) {
		obj := object(item)
		if obj == nil {
			d.AddWarning(fmt.Sprintf("secondaryIncidents[%d]: not an object, ignored", i))
			continue
		}
		inc := normalizeIncident(t, obj, fmt.Sprintf("secondaryIncidents[%d]", i), &d)
		if sameIncident(inc, d.PrimaryIncident) {
			d.AddWarning(fmt.Sprintf("secondaryIncidents[%d]: duplicates the primary incident, ignored", i))
			continue
		}
		d.SecondaryIncidents = append(d.SecondaryIncidents, inc)
	}

	d.Client = normalizeClient(object(field(raw, "client", "cliente")), &d)
	if d.Client.Disposition == DispositionUnknown {
		if disp, ok := parseDisposition(str(field(raw, "clientDisposition"))); ok {
			d.Client.Disposition = disp
		}
	}

	d.FollowUp = normalizeFollowUp(object(field(raw, "followUp", "seguimiento")), &d)
	d.Actions = normalizeActions(object(field(raw, "actions", "acciones")), &d)
	d.Priority = normalizePriority(str(field(raw, "priority", "prioridad")), &d)
	d.Summary = sanitize.Text(str(field(raw, "summary", "resumen")))

	meta := object(field(raw, "meta", "metadata"))
	d.Meta.Confidence = confidence(firstPresent(field(raw, "confidence"), field(meta, "confidence")))
	d.Meta.Rationale = sanitize.Text(str(firstPresent(field(raw, "rationale", "reasoning"), field(meta, "rationale"))))
	for _, w := range list(firstPresent(field(raw, "warnings"), field(meta, "warnings"))) {
		if s := str(w); s != "" {
			d.AddWarning(s)
		}
	}
	return d
}

func normalizeIncident(t *Taxonomy, m map[string]any, path string, d *Decision) Incident {
	rawType := str(field(m, "type", "incidentType", "tipo"))
	it, ok := t.IncidentType(rawType)
	if !ok {
		d.AddWarning(fmt.Sprintf("%s: unknown incident type %q, using %s", path, rawType, FallbackIncidentType))
		it, _ = t.IncidentType(FallbackIncidentType)
	}

	rawReason := str(field(m, "reason", "motivo"))
	reason, ok := it.Reason(rawReason)
	if !ok {
		if rawReason != "" {
			d.AddWarning(fmt.Sprintf("%s: reason %q not valid for %s", path, rawReason, it.Key))
		}
		reason = it.DefaultReason()
	}

	inc := Incident{
		Type:         it.Key,
		Reason:       reason.Key,
		PolicyNumber: str(field(m, "policyNumber", "numeroPoliza", "poliza")),
		Confidence:   confidence(field(m, "confidence")),
		Notes:        sanitize.Text(str(field(m, "notes", "description", "notas"))),
	}
	if rawLine := str(field(m, "lineOfBusiness", "ramo")); rawLine != "" {
		if lob, ok := t.LineOfBusiness(rawLine); ok {
			inc.LineOfBusiness = lob.Key
		} else {
			d.AddWarning(fmt.Sprintf("%s: unknown line of business %q", path, rawLine))
		}
	}
	return inc
}

func sameIncident(a, b Incident) bool {
	return a.Type == b.Type && a.Reason == b.Reason && a.PolicyNumber == b.PolicyNumber && a.LineOfBusiness == b.LineOfBusiness
}

func normalizeClient(m map[string]any, d *Decision) ClientDecision {
	c := ClientDecision{Disposition: DispositionUnknown, DataSource: DataSourceExtracted}

	rawDisp := str(field(m, "disposition", "clientDisposition", "status"))
	if disp, ok := parseDisposition(rawDisp); ok {
		c.Disposition = disp
	} else if rawDisp != "" {
		d.AddWarning(fmt.Sprintf("client: unknown disposition %q", rawDisp))
	}

	rawSource := str(field(m, "dataSource", "source"))
	switch sanitize.Key(rawSource) {
	case "tools", "tool", "tool_results", "herramientas":
		c.DataSource = DataSourceTools
	case "transcript", "transcription", "transcripcion", "conversation":
		c.DataSource = DataSourceTranscript
	case "extracted", "extractor", "":
	default:
		d.AddWarning(fmt.Sprintf("client: unknown data source %q", rawSource))
	}

	c.UseExistingClient = boolean(field(m, "useExistingClient"), false)
	c.ExistingClientID = str(field(m, "existingClientId", "clientId", "idCliente"))
	c.CreateNewClient = boolean(field(m, "createNewClient"), false)
	c.Name = sanitize.Text(str(field(m, "name", "nombre")))
	c.Phone = str(field(m, "phone", "telefono"))
	c.Email = str(field(m, "email", "correo"))
	c.LeadID = str(field(m, "leadId", "idLead"))
	c.CampaignID = str(field(m, "campaignId", "idCampana", "campaign"))

	if c.Disposition == DispositionUnknown && c.UseExistingClient && c.ExistingClientID != "" {
		c.Disposition = DispositionExisting
	}
	if c.Disposition == DispositionExisting && c.ExistingClientID != "" {
		c.UseExistingClient = true
	}
	if c.UseExistingClient && c.ExistingClientID == "" {
		c.UseExistingClient = false
		d.AddWarning("client: useExistingClient without a client id")
	}
	if c.UseExistingClient {
		c.CreateNewClient = false
	}
	return c
}

func parseDisposition(raw string) (Disposition, bool) {
	switch sanitize.Key(raw) {
	case "existing", "existing_client", "existente", "cliente_existente", "customer":
		return DispositionExisting, true
	case "lead", "campaign_lead", "lead_campana":
		return DispositionLead, true
	case "new", "new_client", "nuevo", "cliente_nuevo":
		return DispositionNew, true
	case "unknown", "desconocido":
		return DispositionUnknown, true
	}
	return DispositionUnknown, false
}

func normalizeFollowUp(m map[string]any, d *Decision) FollowUp {
	f := FollowUp{
		IsFollowUp:      boolean(field(m, "isFollowUp", "followUp"), false),
		RelatedTicketID: str(field(m, "relatedTicketId", "ticketId", "relatedTicket")),
	}
	if f.IsFollowUp && f.RelatedTicketID == "" {
		d.AddWarning("followUp: follow-up without a related ticket id")
	}
	return f
}

// normalizeActions applies the defaults used when the model omits a flag: one
// ticket per incident, a client when the disposition asks for one and a
// callback only for follow-ups of a known ticket.
func normalizeActions(m map[string]any, d *Decision) Actions {
	if m == nil {
		d.AddWarning("actions: missing, defaults applied")
	}
	wantsClient := d.Client.CreateNewClient || d.Client.Disposition == DispositionLead
	canCallback := d.FollowUp.IsFollowUp && d.FollowUp.RelatedTicketID != ""

	a := Actions{
		CreateClient:   boolean(field(m, "createClient"), wantsClient),
		CreateTicket:   boolean(field(m, "createTicket", "createTickets"), true),
		TicketCount:    integer(field(m, "ticketCount")),
		CreateCallback: boolean(field(m, "createCallback", "createRellamada"), canCallback),
	}
	for _, item := range list(field(m, "tickets", "ticketBindings")) {
		obj := object(item)
		a.Tickets = append(a.Tickets, TicketBinding{
			ClientID:     str(field(obj, "clientId", "idCliente")),
			PolicyNumber: str(field(obj, "policyNumber", "numeroPoliza")),
		})
	}

	if a.TicketCount < 0 {
		a.TicketCount = 0
	}
	if incidents := 1 + len(d.SecondaryIncidents); a.TicketCount > incidents {
		d.AddWarning(fmt.Sprintf("actions: ticketCount %d exceeds %d incidents", a.TicketCount, incidents))
		a.TicketCount = incidents
	}
	if a.CreateCallback && !canCallback {
		d.AddWarning("actions: callback requested without a related ticket, ignored")
		a.CreateCallback = false
	}
	if a.CreateClient && d.Client.UseExistingClient {
		d.AddWarning("actions: createClient ignored for an existing client")
		a.CreateClient = false
	}
	if a.CreateClient {
		d.Client.CreateNewClient = true
	}
	return a
}

func normalizePriority(raw string, d *Decision) Priority {
	switch sanitize.Key(raw) {
	case "low", "baja":
		return PriorityLow
	case "medium", "media", "normal", "":
		return PriorityMedium
	case "high", "alta":
		return PriorityHigh
	case "urgent", "urgente", "critical":
		return PriorityUrgent
	}
	d.AddWarning(fmt.Sprintf("priority: unknown value %q, using medium", raw))
	return PriorityMedium
}

// field returns the first value whose key matches one of names.
func field(m map[string]any, names ...string) any {
	if m == nil {
		return nil
	}
	for _, name := range names {
		if v, ok := m[name]; ok && v != nil {
			return v
		}
	}
	for _, name := range names {
		want := compactKey(name)
		for k, v := range m {
			if v != nil && compactKey(k) == want {
				return v
			}
		}
	}
	return nil
}

func compactKey(k string) string {
	return strings.ReplaceAll(sanitize.Key(k), "_", "")
}

func firstPresent(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func object(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case RawDecision:
		return m
	}
	return nil
}

// list accepts an array or a single object.
func list(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case map[string]any:
		return []any{x}
	}
	return nil
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

func boolean(v any, def bool) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		switch sanitize.Key(x) {
		case "true", "yes", "si", "1":
			return true
		case "false", "no", "0":
			return false
		}
	}
	return def
}

func integer(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err == nil {
			return n
		}
	}
	return 0
}

// confidence accepts 0-1 or percentages and clamps to [0,1].
func confidence(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(x), "%"), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if f > 1 && f <= 100 {
		f /= 100
	}
	return math.Max(0, math.Min(1, f))
}
