// Package subject recognises the subject name a candidate speaks.
//
// Recognition proceeds in three stages:
//
//  1. A case-insensitive pattern match against the known subject names. The
//     matched text is returned as spoken.
//  2. If enabled, a phonetic pass for misrecognised words: each token of the
//     answer is Double Metaphone encoded and compared with the known names;
//     tokens that share a code and are close by Jaro-Winkler similarity are
//     resolved to the canonical subject name.
//  3. Otherwise the raw answer, with the phrase "studied about" removed and
//     surrounding whitespace trimmed.
package subject

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultSubjects are the subject names recognised when none are configured.
// Longer names precede their prefixes so that "mathematics" wins over "math".
var DefaultSubjects = []string{
	"mathematics", "math", "science", "history", "english",
	"physics", "chemistry", "biology",
}

const (
	defaultPhoneticThreshold = 0.80
	minTokenLen              = 4
)

var studiedAbout = regexp.MustCompile(`(?i)studied about`)

// Option is a functional option for configuring an [Extractor].
type Option func(*Extractor)

// WithPhonetic enables or disables the phonetic pass. Disabled by default.
func WithPhonetic(enabled bool) Option {
	return func(e *Extractor) {
		e.phonetic = enabled
	}
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phonetic
// candidate to be accepted. Non-positive values keep the default of 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(e *Extractor) {
		if threshold > 0 {
			e.threshold = threshold
		}
	}
}

// Extractor resolves spoken answers to subject names. It is read-only after
// construction and safe for concurrent use.
type Extractor struct {
	subjects  []string
	codes     []map[string]struct{}
	pattern   *regexp.Regexp
	phonetic  bool
	threshold float64
}

// New returns an Extractor for subjects. An empty list selects
// [DefaultSubjects].
func New(subjects []string, opts ...Option) *Extractor {
	if len(subjects) == 0 {
		subjects = DefaultSubjects
	}
	e := &Extractor{threshold: defaultPhoneticThreshold}
	quoted := make([]string, 0, len(subjects))
	for _, s := range subjects {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		e.subjects = append(e.subjects, s)
		e.codes = append(e.codes, codes(s))
		quoted = append(quoted, regexp.QuoteMeta(s))
	}
	e.pattern = regexp.MustCompile(`(?i)(` + strings.Join(quoted, "|") + `)`)
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract returns the subject named in answer, or the empty string when
// nothing usable remains.
func (e *Extractor) Extract(answer string) string {
	if m := e.pattern.FindString(answer); m != "" {
		return m
	}
	if e.phonetic {
		if s, ok := e.matchPhonetic(answer); ok {
			return s
		}
	}
	return strings.TrimSpace(studiedAbout.ReplaceAllString(answer, ""))
}

// matchPhonetic returns the best phonetically aligned subject for any token
// of answer.
func (e *Extractor) matchPhonetic(answer string) (string, bool) {
	var (
		best  string
		score float64
	)
	for _, tok := range strings.Fields(strings.ToLower(answer)) {
		tok = strings.Trim(tok, ".,!?")
		if len(tok) < minTokenLen {
			continue
		}
		tc := codes(tok)
		for i, s := range e.subjects {
			if !overlap(tc, e.codes[i]) {
				continue
			}
			if jw := matchr.JaroWinkler(tok, s, false); jw >= e.threshold && jw > score {
				best, score = s, jw
			}
		}
	}
	return best, best != ""
}

// codes returns the Double Metaphone codes for every word of s.
func codes(s string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	for _, w := range strings.Fields(s) {
		p, alt := matchr.DoubleMetaphone(w)
		if p != "" {
			out[p] = struct{}{}
		}
		if alt != "" {
			out[alt] = struct{}{}
		}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
