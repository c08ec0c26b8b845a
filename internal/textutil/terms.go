package textutil

import (
	"regexp"
	"sort"
	"strings"
)

var tokenSplitPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Tokenize splits text into lowercase tokens of at least minLen runes.
func Tokenize(text string, minLen int) []string {
	raw := tokenSplitPattern.Split(strings.ToLower(text), -1)
	terms := make([]string, 0, len(raw))
	for _, token := range raw {
		if token == "" || len([]rune(token)) < minLen {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

// TopTerms returns up to n of the most frequent tokens in text, most frequent
// first, ties broken alphabetically. Tokens in stop are skipped.
func TopTerms(text string, n, minLen int, stop map[string]struct{}) []string {
	if n <= 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, token := range Tokenize(text, minLen) {
		if _, skip := stop[token]; skip {
			continue
		}
		counts[token]++
	}
	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

// StopWords builds a lookup set from words.
func StopWords(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}
