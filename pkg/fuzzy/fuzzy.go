package fuzzy

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field is one searchable attribute and how much a hit on it counts.
type Field struct {
	Text   string
	Weight float64
}

// LevenshteinDistance calculates the edit distance between two strings
// after normalization.
func LevenshteinDistance(s1, s2 string) int {
	r1 := []rune(Normalize(s1))
	r2 := []rune(Normalize(s2))
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(r2)]
}

// Threshold is the typo tolerance for a query of the given length.
func Threshold(query string) int {
	n := len([]rune(query))
	switch {
	case n <= 3:
		return 0
	case n >= 8:
		return 2
	default:
		return 1
	}
}

// RelevanceScore scores how well the query matches the weighted fields.
// Zero means no match.
func RelevanceScore(query string, fields ...Field) float64 {
	query = Normalize(query)
	if query == "" {
		return 0
	}
	threshold := Threshold(query)
	score := 0.0
	for _, f := range fields {
		text := Normalize(f.Text)
		if text == "" {
			continue
		}
		s := 0.0
		if strings.Contains(text, query) {
			s = 100
			if containsWord(text, query) {
				s += 50
			}
		} else {
			for _, word := range strings.Fields(text) {
				if strings.HasPrefix(word, query) {
					s = max(s, 40)
				}
				if dist := LevenshteinDistance(query, word); dist <= threshold {
					s = max(s, 50-float64(dist)*15)
				}
			}
		}
		score += s * f.Weight
	}
	return score
}

// Normalize lowercases, strips diacritics and collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func containsWord(text, query string) bool {
	if !strings.Contains(query, " ") {
		for _, word := range strings.Fields(text) {
			if word == query {
				return true
			}
		}
		return false
	}
	return strings.HasPrefix(text, query+" ") || strings.HasSuffix(text, " "+query) ||
		strings.Contains(text, " "+query+" ") || text == query
}
