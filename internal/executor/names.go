package executor

import (
	"strings"
	"unicode"

	"callflow_backend/platform/sanitize"
)

var surnameParticles = map[string]bool{
	"de": true, "del": true, "la": true, "las": true, "los": true, "y": true, "san": true,
}

// splitName splits a Spanish full name into given name, first surname and
// second surname. Particles such as "de la" stay with the surname they
// precede.
func splitName(full string) (given, first, second string) {
	tokens := strings.Fields(full)
	switch len(tokens) {
	case 0:
		return "", "", ""
	case 1:
		return tokens[0], "", ""
	case 2:
		return tokens[0], tokens[1], ""
	}

	popSurname := func() string {
		j := len(tokens) - 1
		for j > 1 && surnameParticles[sanitize.Fold(tokens[j-1])] {
			j--
		}
		s := strings.Join(tokens[j:], " ")
		tokens = tokens[:j]
		return s
	}

	second = popSurname()
	if len(tokens) == 1 {
		return tokens[0], second, ""
	}
	first = popSurname()
	return strings.Join(tokens, " "), first, second
}

// fallbackClientID builds TMP-<call id suffix>-<phone last 4>. It only exists
// for traceability and is never sent as a created client.
func fallbackClientID(externalCallID, phone string) string {
	var callPart []rune
	for _, r := range externalCallID {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			callPart = append(callPart, unicode.ToUpper(r))
		}
	}
	if len(callPart) > 8 {
		callPart = callPart[len(callPart)-8:]
	}
	if len(callPart) == 0 {
		callPart = []rune("NOCALL")
	}

	var digits []rune
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	phonePart := "0000"
	if len(digits) >= 4 {
		phonePart = string(digits[len(digits)-4:])
	}
	return "TMP-" + string(callPart) + "-" + phonePart
}

// IsFallbackClientID reports whether id was synthesized by fallbackClientID.
func IsFallbackClientID(id string) bool {
	return strings.HasPrefix(id, "TMP-")
}
