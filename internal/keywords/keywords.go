// Package keywords derives salient terms from a spoken answer so that the
// next question can refer back to them.
package keywords

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
)

// MaxKeywords is the largest number of terms [Extract] returns.
const MaxKeywords = 2

// minLen is the exclusive lower bound on keyword length.
const minLen = 3

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"in": {}, "on": {}, "to": {}, "for": {}, "with": {}, "about": {}, "of": {},
}

var punctuation = strings.NewReplacer(".", "", ",", "", "!", "", "?", "")

// Extract returns up to [MaxKeywords] of the most frequent terms in text.
//
// Text is lowercased, sentence punctuation is removed and the remainder is
// split on whitespace. Stop words and tokens of three characters or fewer
// are dropped. Ties in frequency follow the enumeration order of a
// JavaScript object keyed by term: array-index terms such as "1999" first in
// ascending numeric order, then all other terms in order of first appearance.
func Extract(text string) []string {
	words := strings.Fields(punctuation.Replace(strings.ToLower(text)))

	var order []string
	freq := make(map[string]int)
	for _, w := range words {
		if len([]rune(w)) <= minLen {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}

	order = indexFirst(order)
	slices.SortStableFunc(order, func(a, b string) int {
		return freq[b] - freq[a]
	})
	if len(order) > MaxKeywords {
		order = order[:MaxKeywords]
	}
	return order
}

// indexFirst moves array-index terms to the front in ascending numeric order
// and keeps the relative order of the rest.
func indexFirst(terms []string) []string {
	type indexed struct {
		term string
		n    uint64
	}
	var idx []indexed
	rest := make([]string, 0, len(terms))
	for _, t := range terms {
		if n, ok := arrayIndex(t); ok {
			idx = append(idx, indexed{t, n})
			continue
		}
		rest = append(rest, t)
	}
	if len(idx) == 0 {
		return terms
	}
	slices.SortFunc(idx, func(a, b indexed) int { return cmp.Compare(a.n, b.n) })
	out := make([]string, 0, len(terms))
	for _, i := range idx {
		out = append(out, i.term)
	}
	return append(out, rest...)
}

// maxArrayIndex is the largest canonical array index, 2^32-2.
const maxArrayIndex = 1<<32 - 2

// arrayIndex reports whether s is the canonical decimal form of an array
// index: digits only, no leading zero unless s is "0", at most 2^32-2.
func arrayIndex(s string) (uint64, bool) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n > maxArrayIndex {
		return 0, false
	}
	return n, true
}
