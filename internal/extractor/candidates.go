package extractor

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Key sets recognised in customer lookup payloads. Lookups are case-insensitive.
var (
	customerListKeys = []string{"clientes", "clients", "customers", "data", "results", "resultados"}
	customerObjKeys  = []string{"cliente", "client", "customer"}
	leadListKeys     = []string{"leads"}
	leadObjKeys      = []string{"lead"}

	idKeys        = []string{"idCliente", "id_cliente", "clientId", "client_id", "customerId", "customer_id", "codigoCliente", "codigo_cliente", "id"}
	leadIDKeys    = []string{"idLead", "id_lead", "leadId", "lead_id"}
	campaignKeys  = []string{"idCampana", "idCampaña", "campaignId", "campaign_id", "campaign", "campana", "campaña"}
	nameKeys      = []string{"nombreCompleto", "nombre_completo", "fullName", "full_name", "razonSocial", "name", "nombre"}
	surnameKeys   = []string{"apellidos", "surname", "lastName", "last_name"}
	surname1Keys  = []string{"apellido1", "primerApellido", "primer_apellido"}
	surname2Keys  = []string{"apellido2", "segundoApellido", "segundo_apellido"}
	phoneKeys     = []string{"telefono", "teléfono", "telefono1", "movil", "móvil", "phone", "mobile", "phoneNumber"}
	emailKeys     = []string{"email", "correo", "mail", "e-mail"}
	policyKeys    = []string{"polizas", "pólizas", "policies", "poliza", "póliza", "numeroPoliza", "numero_poliza", "policyNumber", "policy_number"}
	policyNumKeys = []string{"numeroPoliza", "numero_poliza", "numero", "policyNumber", "policy_number", "number", "id"}
)

// parsedPayload holds the records found in one tool result.
type parsedPayload struct {
	customers []Candidate
	leads     []LeadInfo
}

// decodePayload decodes a tool result. A JSON-encoded string is unwrapped once.
func decodePayload(raw json.RawMessage) (any, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	if s, ok := v.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return nil, false
		}
		v = inner
	}
	return v, true
}

func parseToolPayload(tool string, raw json.RawMessage) parsedPayload {
	v, ok := decodePayload(raw)
	if !ok {
		return parsedPayload{}
	}
	var out parsedPayload
	collectRecords(tool, v, &out, 0)
	return out
}

// collectRecords walks the wrapper keys a lookup may use. Depth is bounded so a
// deeply nested payload cannot recurse forever.
func collectRecords(tool string, v any, out *parsedPayload, depth int) {
	if depth > 3 {
		return
	}
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			collectRecords(tool, item, out, depth+1)
		}
	case map[string]any:
		if isFailure(node) {
			return
		}
		wrapped := false
		for _, k := range leadListKeys {
			if list, ok := lookup(node, k).([]any); ok {
				wrapped = true
				for _, item := range list {
					if obj, ok := item.(map[string]any); ok {
						if lead, ok := leadFrom(tool, obj); ok {
							out.leads = append(out.leads, lead)
						}
					}
				}
			}
		}
		for _, k := range leadObjKeys {
			if obj, ok := lookup(node, k).(map[string]any); ok {
				wrapped = true
				if lead, ok := leadFrom(tool, obj); ok {
					out.leads = append(out.leads, lead)
				}
			}
		}
		for _, k := range customerListKeys {
			switch inner := lookup(node, k).(type) {
			case []any, map[string]any:
				wrapped = true
				collectRecords(tool, inner, out, depth+1)
			}
		}
		for _, k := range customerObjKeys {
			if obj, ok := lookup(node, k).(map[string]any); ok {
				wrapped = true
				collectRecords(tool, obj, out, depth+1)
			}
		}
		if wrapped {
			return
		}
		if hasAny(node, leadIDKeys) {
			if lead, ok := leadFrom(tool, node); ok {
				out.leads = append(out.leads, lead)
			}
			return
		}
		if cand, ok := candidateFrom(tool, node); ok {
			out.customers = append(out.customers, cand)
		}
	}
}

func isFailure(node map[string]any) bool {
	for _, k := range []string{"found", "success", "encontrado"} {
		if b, ok := lookup(node, k).(bool); ok && !b {
			return true
		}
	}
	return false
}

func candidateFrom(tool string, obj map[string]any) (Candidate, bool) {
	cand := Candidate{
		ID:            firstString(obj, idKeys),
		Name:          personName(obj),
		Phone:         firstString(obj, phoneKeys),
		Email:         firstString(obj, emailKeys),
		PolicyNumbers: policyNumbers(obj),
		Tool:          tool,
	}
	if cand.ID == "" && cand.Name == "" {
		return Candidate{}, false
	}
	return cand, true
}

func leadFrom(tool string, obj map[string]any) (LeadInfo, bool) {
	lead := LeadInfo{
		LeadID:     firstString(obj, leadIDKeys),
		CampaignID: firstString(obj, campaignKeys),
		Name:       personName(obj),
		Phone:      firstString(obj, phoneKeys),
		Email:      firstString(obj, emailKeys),
		Tool:       tool,
	}
	if lead.LeadID == "" {
		lead.LeadID = firstString(obj, []string{"id"})
	}
	if lead.LeadID == "" && lead.Name == "" && lead.Phone == "" {
		return LeadInfo{}, false
	}
	return lead, true
}

// personName joins given name and surnames when the payload splits them.
func personName(obj map[string]any) string {
	name := firstString(obj, nameKeys)
	parts := []string{name}
	if s := firstString(obj, surnameKeys); s != "" {
		parts = append(parts, s)
	} else {
		parts = append(parts, firstString(obj, surname1Keys), firstString(obj, surname2Keys))
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func policyNumbers(obj map[string]any) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, k := range policyKeys {
		switch v := lookup(obj, k).(type) {
		case []any:
			for _, item := range v {
				switch p := item.(type) {
				case map[string]any:
					add(firstString(p, policyNumKeys))
				default:
					add(scalarString(p))
				}
			}
		case map[string]any:
			add(firstString(v, policyNumKeys))
		default:
			add(scalarString(v))
		}
	}
	return out
}

func lookup(obj map[string]any, key string) any {
	if v, ok := obj[key]; ok {
		return v
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func hasAny(obj map[string]any, keys []string) bool {
	for _, k := range keys {
		if lookup(obj, k) != nil {
			return true
		}
	}
	return false
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if s := scalarString(lookup(obj, k)); s != "" {
			return s
		}
	}
	return ""
}

// scalarString renders strings and numbers. Integral floats print without a
// fraction so numeric ids keep their literal form.
func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}
