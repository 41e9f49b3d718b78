package extractor

import (
	"regexp"
	"strings"
	"unicode"

	"callflow_backend/internal/calls"
	"callflow_backend/platform/phone"
)

var (
	policyPhrasePattern = regexp.MustCompile(`(?i)(?:n[úu]mero\s+de\s+(?:la\s+|mi\s+)?p[óo]liza|p[óo]liza\s+(?:n[úu]mero|n[º°o]\.?)|policy\s+(?:number|no\.?))\s*(?:es\s+|is\s+|:\s*)?(?:el\s+|la\s+)?([a-z0-9][a-z0-9\-/]{4,24})`)
	phonePattern        = regexp.MustCompile(`(?:\+|00)?\d[\d \-.]{7,15}\d`)
	emailPattern        = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// minPolicyDigits keeps "póliza número dos" style fragments out.
const minPolicyDigits = 5

// textFindings are values read from what the caller said. A field found with
// two different values is dropped.
type textFindings struct {
	PolicyNumber string
	Phone        string
	Email        string
}

func (f textFindings) empty() bool {
	return f.PolicyNumber == "" && f.Phone == "" && f.Email == ""
}

// scanUserText applies the narrow patterns to user utterances only.
func scanUserText(transcript []calls.TranscriptSegment) textFindings {
	var policies, phones, emails uniqueValues
	for _, seg := range transcript {
		if seg.Speaker != calls.SpeakerUser || strings.TrimSpace(seg.Message) == "" {
			continue
		}
		msg := seg.Message

		for _, m := range policyPhrasePattern.FindAllStringSubmatchIndex(msg, -1) {
			value := strings.TrimRight(msg[m[2]:m[3]], "-/")
			if countDigits(value) >= minPolicyDigits {
				policies.add(value, strings.ToUpper(value))
			}
			// Policy digits must not be read again as a phone number.
			msg = msg[:m[0]] + strings.Repeat(" ", m[1]-m[0]) + msg[m[1]:]
		}

		for _, m := range emailPattern.FindAllString(msg, -1) {
			value := strings.TrimRight(m, ".")
			emails.add(value, strings.ToLower(value))
		}
		msg = emailPattern.ReplaceAllStringFunc(msg, func(s string) string {
			return strings.Repeat(" ", len(s))
		})

		for _, m := range phonePattern.FindAllString(msg, -1) {
			value := strings.TrimSpace(m)
			if !phone.IsValid(value) {
				continue
			}
			phones.add(value, phone.NationalDigits(value))
		}
	}
	return textFindings{
		PolicyNumber: policies.single(),
		Phone:        phones.single(),
		Email:        emails.single(),
	}
}

// uniqueValues keeps the first literal form per normalized key.
type uniqueValues struct {
	keys   []string
	values map[string]string
}

func (u *uniqueValues) add(literal, key string) {
	if u.values == nil {
		u.values = map[string]string{}
	}
	if _, ok := u.values[key]; ok {
		return
	}
	u.values[key] = literal
	u.keys = append(u.keys, key)
}

func (u *uniqueValues) single() string {
	if len(u.keys) != 1 {
		return ""
	}
	return u.values[u.keys[0]]
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
