package extractor

import (
	"strings"
	"unicode"

	"callflow_backend/platform/sanitize"
)

// fuzzyTokenMinRunes is the shortest token eligible for edit-distance credit.
// Shorter tokens must match exactly.
const fuzzyTokenMinRunes = 4

// minTokenSimilarity drops weak edit-distance matches so unrelated names do
// not accumulate partial credit.
const minTokenSimilarity = 0.75

// MatchName binds hint to one of candidates following the thresholds and the
// ambiguity policy in cfg.
func MatchName(candidates []Candidate, hint string, cfg Config) MatchResult {
	cfg = cfg.withDefaults()

	switch len(candidates) {
	case 0:
		return MatchResult{Method: MethodNone, Index: -1}
	case 1:
		res := MatchResult{Method: MethodSingle, Index: 0}
		if strings.TrimSpace(hint) != "" {
			res.Score = ScoreName(hint, candidates[0].Name)
		}
		return res
	}

	if strings.TrimSpace(hint) == "" {
		if cfg.Ambiguity == PolicyNone {
			return MatchResult{Method: MethodAmbiguous, Index: -1}
		}
		return MatchResult{Method: MethodNoHintFirst, Index: 0, LowConfidence: true}
	}

	bestIdx := -1
	bestScore := 0.0
	firstScore := 0.0
	for i, cand := range candidates {
		score := ScoreName(hint, cand.Name)
		if i == 0 {
			firstScore = score
		}
		if score >= cfg.ExactThreshold {
			return MatchResult{Method: MethodExact, Score: score, Index: i}
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	if bestIdx >= 0 && bestScore >= cfg.MatchThreshold {
		return MatchResult{Method: MethodFuzzy, Score: bestScore, Index: bestIdx}
	}
	if cfg.Ambiguity == PolicyNone {
		return MatchResult{Method: MethodAmbiguous, Score: bestScore, Index: -1}
	}
	return MatchResult{Method: MethodFallbackFirst, Score: firstScore, Index: 0, LowConfidence: true}
}

// ScoreName returns a similarity in [0,1] between two person names. Case,
// accents, punctuation and token order are ignored.
func ScoreName(a, b string) float64 {
	ta := nameTokens(a)
	tb := nameTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if sameTokens(ta, tb) {
		return 1
	}

	used := make([]bool, len(tb))
	total := 0.0
	for _, x := range ta {
		best, bestJ := 0.0, -1
		for j, y := range tb {
			if used[j] {
				continue
			}
			s := tokenSimilarity(x, y)
			if s > best {
				best, bestJ = s, j
			}
		}
		if bestJ >= 0 {
			used[bestJ] = true
			total += best
		}
	}
	return 2 * total / float64(len(ta)+len(tb))
}

func tokenSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) < fuzzyTokenMinRunes || len(rb) < fuzzyTokenMinRunes {
		return 0
	}
	longest := max(len(ra), len(rb))
	sim := 1 - float64(levenshtein(ra, rb))/float64(longest)
	if sim < minTokenSimilarity {
		return 0
	}
	return sim
}

func sameTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, t := range a {
		counts[t]++
	}
	for _, t := range b {
		counts[t]--
		if counts[t] < 0 {
			return false
		}
	}
	return true
}

// levenshtein computes the edit distance over runes with a two-row table.
func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func nameTokens(s string) []string {
	return strings.FieldsFunc(sanitize.Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
