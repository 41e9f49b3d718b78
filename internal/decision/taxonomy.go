package decision

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"callflow_backend/platform/sanitize"
)

// Fallback incident used whenever classification cannot be trusted.
const (
	FallbackIncidentType = "commercial_management"
	FallbackReason       = "general_inquiry"
)

//go:embed taxonomy.yaml
var taxonomyYAML []byte

// Reason is one allowed reason within an incident type.
type Reason struct {
	Key   string `yaml:"key" json:"key"`
	Code  string `yaml:"code" json:"code"`
	Label string `yaml:"label" json:"label"`
}

// IncidentType is one entry of the closed incident taxonomy. The first reason
// is the default.
type IncidentType struct {
	Key     string   `yaml:"key" json:"key"`
	Code    string   `yaml:"code" json:"code"`
	Label   string   `yaml:"label" json:"label"`
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
	Reasons []Reason `yaml:"reasons" json:"reasons"`
}

// DefaultReason returns the first listed reason.
func (t IncidentType) DefaultReason() Reason {
	return t.Reasons[0]
}

// LineOfBusiness is an insurance line (home, auto, ...).
type LineOfBusiness struct {
	Key     string   `yaml:"key" json:"key"`
	Code    string   `yaml:"code" json:"code"`
	Label   string   `yaml:"label" json:"label"`
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
}

// Taxonomy is the closed set of incident types and lines of business.
type Taxonomy struct {
	IncidentTypes   []IncidentType   `yaml:"incidentTypes"`
	LinesOfBusiness []LineOfBusiness `yaml:"linesOfBusiness"`

	typeIndex map[string]int
	lineIndex map[string]int
}

var defaultTaxonomy = sync.OnceValues(func() (*Taxonomy, error) {
	return LoadTaxonomy(taxonomyYAML)
})

// DefaultTaxonomy returns the embedded taxonomy. It panics if the embedded
// document is invalid, which the package tests rule out.
func DefaultTaxonomy() *Taxonomy {
	t, err := defaultTaxonomy()
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTaxonomy parses and indexes a taxonomy document.
func LoadTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode taxonomy: %w", err)
	}
	if len(t.IncidentTypes) == 0 {
		return nil, errors.New("taxonomy has no incident types")
	}

	t.typeIndex = make(map[string]int)
	for i, it := range t.IncidentTypes {
		if it.Key == "" || it.Code == "" {
			return nil, fmt.Errorf("incident type %d: key and code are required", i)
		}
		if len(it.Reasons) == 0 {
			return nil, fmt.Errorf("incident type %s has no reasons", it.Key)
		}
		for _, name := range append([]string{it.Key}, it.Aliases...) {
			k := sanitize.Key(name)
			if prev, ok := t.typeIndex[k]; ok && prev != i {
				return nil, fmt.Errorf("incident type alias %q is ambiguous", name)
			}
			t.typeIndex[k] = i
		}
	}

	t.lineIndex = make(map[string]int)
	for i, lob := range t.LinesOfBusiness {
		if lob.Key == "" {
			return nil, fmt.Errorf("line of business %d: key is required", i)
		}
		for _, name := range append([]string{lob.Key}, lob.Aliases...) {
			k := sanitize.Key(name)
			if prev, ok := t.lineIndex[k]; ok && prev != i {
				return nil, fmt.Errorf("line of business alias %q is ambiguous", name)
			}
			t.lineIndex[k] = i
		}
	}

	fallback, ok := t.IncidentType(FallbackIncidentType)
	if !ok {
		return nil, errors.New("taxonomy lacks the fallback incident type")
	}
	if _, ok := fallback.Reason(FallbackReason); !ok {
		return nil, errors.New("taxonomy lacks the fallback reason")
	}
	return &t, nil
}

// IncidentType resolves a key or alias, ignoring case, accents and separators.
func (t *Taxonomy) IncidentType(raw string) (IncidentType, bool) {
	i, ok := t.typeIndex[sanitize.Key(raw)]
	if !ok {
		return IncidentType{}, false
	}
	return t.IncidentTypes[i], true
}

// Reason resolves a reason key within the incident type.
func (it IncidentType) Reason(raw string) (Reason, bool) {
	k := sanitize.Key(raw)
	for _, r := range it.Reasons {
		if r.Key == k {
			return r, true
		}
	}
	return Reason{}, false
}

// LineOfBusiness resolves a key or alias.
func (t *Taxonomy) LineOfBusiness(raw string) (LineOfBusiness, bool) {
	i, ok := t.lineIndex[sanitize.Key(raw)]
	if !ok {
		return LineOfBusiness{}, false
	}
	return t.LinesOfBusiness[i], true
}
