package phone

import "testing"

func TestIsValid(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"612 345 678", true},
		{"+34 912 34 56 78", true},
		{"0034612345678", true},
		{"123 456 789", false},
		{"12345", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValid(tc.input); got != tc.want {
			t.Fatalf("IsValid(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestNormalizeAndNationalDigits(t *testing.T) {
	if got := NormalizeE164("612 34 56 78"); got != "+34612345678" {
		t.Fatalf("unexpected E.164 %q", got)
	}
	if got := NormalizeE164(" abc "); got != "abc" {
		t.Fatalf("invalid input must come back trimmed, got %q", got)
	}
	if got := NationalDigits("+34 612 34 56 78"); got != "612345678" {
		t.Fatalf("unexpected national digits %q", got)
	}
}
