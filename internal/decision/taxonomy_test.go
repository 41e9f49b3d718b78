package decision

import "testing"

func TestDefaultTaxonomyLoads(t *testing.T) {
	tax := DefaultTaxonomy()
	if len(tax.IncidentTypes) != 9 {
		t.Fatalf("expected 9 incident types, got %d", len(tax.IncidentTypes))
	}
	if len(tax.LinesOfBusiness) != 8 {
		t.Fatalf("expected 8 lines of business, got %d", len(tax.LinesOfBusiness))
	}
}

func TestTaxonomyResolvesAliases(t *testing.T) {
	tax := DefaultTaxonomy()

	tests := []struct {
		raw  string
		want string
	}{
		{raw: "new_contract", want: "new_contract"},
		{raw: "Nueva Contratación", want: "new_contract"},
		{raw: "RECLAMACIÓN", want: "complaint"},
		{raw: "follow-up", want: "callback"},
	}
	for _, tt := range tests {
		it, ok := tax.IncidentType(tt.raw)
		if !ok || it.Key != tt.want {
			t.Fatalf("IncidentType(%q) = %q, %v; want %q", tt.raw, it.Key, ok, tt.want)
		}
	}

	if _, ok := tax.IncidentType("teleportation"); ok {
		t.Fatal("unknown type must not resolve")
	}
	lob, ok := tax.LineOfBusiness("Hogar")
	if !ok || lob.Key != "home" || lob.Code != "HOG" {
		t.Fatalf("unexpected line of business %+v", lob)
	}
}

func TestLoadTaxonomyRejectsInvalidDocuments(t *testing.T) {
	docs := map[string]string{
		"empty":           "incidentTypes: []",
		"no reasons":      "incidentTypes:\n  - {key: a, code: '1'}",
		"no fallback":     "incidentTypes:\n  - {key: a, code: '1', reasons: [{key: r, code: '11'}]}",
		"ambiguous alias": "incidentTypes:\n  - {key: a, code: '1', aliases: [x], reasons: [{key: r, code: '11'}]}\n  - {key: b, code: '2', aliases: [x], reasons: [{key: r, code: '21'}]}",
		"not yaml":        "incidentTypes: [",
	}
	for name, doc := range docs {
		if _, err := LoadTaxonomy([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
