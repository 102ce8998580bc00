package usecase

import (
	"sort"
	"strings"
	"unicode"
)

// splitWordsLower breaks text into lowercase word tokens. Unicode-aware so
// non-ASCII corpora tokenize correctly.
func splitWordsLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// informativeLemmas picks the top-N query tokens to match against the
// corpus lemma index, bounding lemma-search fan-out. Longer tokens stand
// in for rarer ones; ties resolve lexicographically for determinism.
func informativeLemmas(text string, topN int) []string {
	if topN <= 0 {
		return nil
	}

	seen := make(map[string]struct{})
	lemmas := make([]string, 0, 8)
	for _, token := range splitWordsLower(text) {
		if len([]rune(token)) < 2 {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		lemmas = append(lemmas, token)
	}

	sort.Slice(lemmas, func(i, j int) bool {
		li, lj := len([]rune(lemmas[i])), len([]rune(lemmas[j]))
		if li != lj {
			return li > lj
		}
		return lemmas[i] < lemmas[j]
	})

	if len(lemmas) > topN {
		lemmas = lemmas[:topN]
	}
	return lemmas
}
