package extractor

import (
	"strings"

	"callflow_backend/internal/calls"
)

// Confidence weights per identity field.
const (
	weightID     = 50
	weightName   = 20
	weightPhone  = 15
	weightEmail  = 15
	weightPolicy = 10

	maxTextOnlyConfidence      = 40
	maxLowConfidenceConfidence = 60
)

// Extractor applies a fixed Config to calls.
type Extractor struct {
	cfg Config
}

// New creates an Extractor. Zero thresholds fall back to the defaults.
func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract runs Extract with the extractor's configuration.
func (e *Extractor) Extract(call calls.Call, hint string) ClientData {
	return Extract(call, hint, e.cfg)
}

// Extract reads the caller's identity from customer lookup results and, when
// none exist, from narrow patterns in the caller's own words. hint is the name
// the classifier understood and is only used to pick among candidates.
func Extract(call calls.Call, hint string, cfg Config) ClientData {
	cfg = cfg.withDefaults()
	identify := make(map[string]bool, len(cfg.IdentifyTools))
	for _, name := range cfg.IdentifyTools {
		identify[strings.ToLower(name)] = true
	}

	data := ClientData{Source: SourceNone, ToolsConsulted: []string{}}
	consulted := map[string]bool{}
	var customers []Candidate
	var leads []LeadInfo
	seenCustomer := map[string]bool{}
	seenLead := map[string]bool{}

	for _, seg := range call.Transcript {
		for _, inv := range seg.ToolCalls {
			if !identify[strings.ToLower(inv.Name)] {
				continue
			}
			if !consulted[inv.Name] {
				consulted[inv.Name] = true
				data.ToolsConsulted = append(data.ToolsConsulted, inv.Name)
			}
			if !inv.Succeeded() {
				continue
			}
			parsed := parseToolPayload(inv.Name, inv.Result.Payload)
			for _, c := range parsed.customers {
				key := "id:" + c.ID
				if c.ID == "" {
					key = "name:" + strings.ToLower(c.Name)
				}
				if !seenCustomer[key] {
					seenCustomer[key] = true
					customers = append(customers, c)
				}
			}
			for _, l := range parsed.leads {
				key := l.LeadID + "|" + l.Name + "|" + l.Phone
				if !seenLead[key] {
					seenLead[key] = true
					leads = append(leads, l)
				}
			}
		}
	}

	structured := len(customers) > 0 || len(leads) > 0
	bound := false

	switch {
	case len(customers) > 0:
		data.Candidates = customers
		m := MatchName(customers, hint, cfg)
		data.Match = &m
		if m.Index >= 0 {
			c := customers[m.Index]
			data.ClientID = c.ID
			data.Name = c.Name
			data.Phone = c.Phone
			data.Email = c.Email
			if len(c.PolicyNumbers) == 1 {
				data.PolicyNumber = c.PolicyNumbers[0]
			}
			bound = true
		}
	case len(leads) > 0:
		asCandidates := make([]Candidate, len(leads))
		for i, l := range leads {
			asCandidates[i] = Candidate{ID: l.LeadID, Name: l.Name, Phone: l.Phone, Email: l.Email, Tool: l.Tool}
		}
		m := MatchName(asCandidates, hint, cfg)
		data.Match = &m
		if m.Index >= 0 {
			lead := leads[m.Index]
			data.LeadInfo = &lead
			data.Name = lead.Name
			data.Phone = lead.Phone
			data.Email = lead.Email
			bound = true
		}
	}
	if bound {
		data.Source = SourceTools
	}

	// An unresolved candidate list is left as is rather than guessed from text.
	if structured && !bound {
		return data
	}

	text := scanUserText(call.Transcript)
	if !text.empty() {
		filled := false
		if data.PolicyNumber == "" && text.PolicyNumber != "" {
			data.PolicyNumber = text.PolicyNumber
			filled = true
		}
		if data.Phone == "" && text.Phone != "" {
			data.Phone = text.Phone
			filled = true
		}
		if data.Email == "" && text.Email != "" {
			data.Email = text.Email
			filled = true
		}
		if filled {
			if bound {
				data.Source = SourceMixed
			} else {
				data.Source = SourceTranscriptText
			}
		}
	}

	data.Confidence = confidence(data)
	return data
}

func confidence(d ClientData) int {
	score := 0
	if d.ClientID != "" || (d.LeadInfo != nil && d.LeadInfo.LeadID != "") {
		score += weightID
	}
	if d.Name != "" {
		score += weightName
	}
	if d.Phone != "" {
		score += weightPhone
	}
	if d.Email != "" {
		score += weightEmail
	}
	if d.PolicyNumber != "" {
		score += weightPolicy
	}
	score = min(score, 100)
	if d.Source == SourceTranscriptText {
		score = min(score, maxTextOnlyConfidence)
	}
	if d.Match != nil && d.Match.LowConfidence {
		score = min(score, maxLowConfidenceConfidence)
	}
	return score
}
