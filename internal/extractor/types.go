// Package extractor identifies the caller from tool results and narrow
// transcript patterns. Everything it returns is literally present in the call.
package extractor

import "strings"

// Source tags where extracted identity data came from.
type Source string

const (
	SourceTools          Source = "tools"
	SourceTranscriptText Source = "transcript_text"
	SourceMixed          Source = "mixed"
	SourceNone           Source = "none"
)

// MatchMethod records how a candidate was bound.
type MatchMethod string

const (
	MethodNone          MatchMethod = "none"
	MethodSingle        MatchMethod = "single"
	MethodExact         MatchMethod = "exact"
	MethodFuzzy         MatchMethod = "fuzzy"
	MethodFallbackFirst MatchMethod = "fallback_first"
	MethodNoHintFirst   MatchMethod = "no_hint_first"
	MethodAmbiguous     MatchMethod = "ambiguous"
)

// AmbiguityPolicy decides what happens when no candidate clearly matches.
type AmbiguityPolicy string

const (
	// PolicyFirst binds the first candidate and flags it as low confidence.
	PolicyFirst AmbiguityPolicy = "first"
	// PolicyNone leaves the call unbound.
	PolicyNone AmbiguityPolicy = "none"
)

// ParseAmbiguityPolicy defaults to PolicyFirst for unknown values.
func ParseAmbiguityPolicy(raw string) AmbiguityPolicy {
	if strings.EqualFold(strings.TrimSpace(raw), string(PolicyNone)) {
		return PolicyNone
	}
	return PolicyFirst
}

// Config tunes extraction and matching.
type Config struct {
	ExactThreshold float64
	MatchThreshold float64
	Ambiguity      AmbiguityPolicy
	// IdentifyTools lists tool names whose results carry customer or lead records.
	IdentifyTools []string
}

// DefaultIdentifyTools are the customer lookup tools the voice agents expose.
var DefaultIdentifyTools = []string{
	"identificar_cliente",
	"identify_customer",
	"identify_client",
	"buscar_cliente",
	"consultar_cliente",
	"get_client",
	"get_customer",
	"lookup_customer",
	"search_customer",
	"buscar_lead",
	"identificar_lead",
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		ExactThreshold: 0.9,
		MatchThreshold: 0.5,
		Ambiguity:      PolicyFirst,
		IdentifyTools:  DefaultIdentifyTools,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ExactThreshold <= 0 {
		c.ExactThreshold = def.ExactThreshold
	}
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = def.MatchThreshold
	}
	if c.Ambiguity == "" {
		c.Ambiguity = def.Ambiguity
	}
	if len(c.IdentifyTools) == 0 {
		c.IdentifyTools = def.IdentifyTools
	}
	return c
}

// Candidate is one customer record found in a tool result.
type Candidate struct {
	ID            string   `json:"id"`
	Name          string   `json:"name,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	Email         string   `json:"email,omitempty"`
	PolicyNumbers []string `json:"policyNumbers,omitempty"`
	Tool          string   `json:"tool"`
}

// LeadInfo is a campaign contact that is not yet a customer.
type LeadInfo struct {
	LeadID     string `json:"leadId,omitempty"`
	CampaignID string `json:"campaignId,omitempty"`
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Tool       string `json:"tool"`
}

// MatchResult is the provenance of a candidate binding.
type MatchResult struct {
	Method        MatchMethod `json:"method"`
	Score         float64     `json:"score"`
	Index         int         `json:"index"`
	LowConfidence bool        `json:"lowConfidence"`
}

// ClientData is the extractor output carried through the pipeline.
type ClientData struct {
	ClientID       string       `json:"clientId,omitempty"`
	Name           string       `json:"name,omitempty"`
	Phone          string       `json:"phone,omitempty"`
	Email          string       `json:"email,omitempty"`
	PolicyNumber   string       `json:"policyNumber,omitempty"`
	Confidence     int          `json:"confidence"`
	Source         Source       `json:"source"`
	ToolsConsulted []string     `json:"toolsConsulted"`
	LeadInfo       *LeadInfo    `json:"leadInfo,omitempty"`
	Candidates     []Candidate  `json:"candidates,omitempty"`
	Match          *MatchResult `json:"match,omitempty"`
}

// HasIdentity reports whether any identity field was found.
func (d ClientData) HasIdentity() bool {
	return d.ClientID != "" || d.Name != "" || d.Phone != "" || d.Email != "" || d.PolicyNumber != ""
}
