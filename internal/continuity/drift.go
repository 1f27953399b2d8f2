package continuity

import "strings"

// defaultDriftThreshold is the Jaccard overlap below which the cached
// narrative is considered stale for the current query.
const defaultDriftThreshold = 0.15

// hasTopicDrifted reports whether query has moved away from the cached
// narrative. Cheap token-overlap check: tokenize both, compare Jaccard
// similarity against the threshold. An empty narrative always drifts;
// an empty query never does.
func hasTopicDrifted(query, narrative string, threshold float64) bool {
	if strings.TrimSpace(narrative) == "" {
		return true
	}
	q := tokenSet(query)
	if len(q) == 0 {
		return false
	}
	n := tokenSet(narrative)

	intersection := 0
	for tok := range q {
		if n[tok] {
			intersection++
		}
	}
	union := len(q) + len(n) - intersection
	if union == 0 {
		return false
	}
	return float64(intersection)/float64(union) < threshold
}

// tokenSet lowercases s and splits it into a set of word tokens.
func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(tok) < 2 {
			continue
		}
		set[tok] = true
	}
	return set
}
