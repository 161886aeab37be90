package interview

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Extractor infers candidate-info fields from a single candidate response.
// Implementations are best-effort: they return only the fields they could
// infer, and the registry merges the result into the session's candidate
// info, overwriting earlier values for the same key.
type Extractor interface {
	Extract(text string) map[string]string
}

// Candidate-info keys produced by [KeywordExtractor].
const (
	InfoAppliedRole  = "applied_role"
	InfoIntroduction = "introduction"
)

// defaultFuzzyThreshold is the minimum Jaro-Winkler score for a word to be
// treated as a (possibly misspelled) cue word. Spoken responses arrive via
// speech recognition, so "experiance" and "experince" should still count.
const defaultFuzzyThreshold = 0.92

// KeywordExtractor is the default [Extractor]. It scans the response for cue
// words and phrases and, when one matches, records the whole response under
// the corresponding key. Phrase cues are matched as case-insensitive
// substrings; single-word cues additionally match fuzzily per word using
// Jaro-Winkler similarity.
//
// The extractor is read-only after construction and safe for concurrent use.
type KeywordExtractor struct {
	fuzzyThreshold float64
}

// ExtractorOption is a functional option for configuring a [KeywordExtractor].
type ExtractorOption func(*KeywordExtractor)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required for a word
// to match one of the single-word cues. Default: 0.92.
func WithFuzzyThreshold(threshold float64) ExtractorOption {
	return func(e *KeywordExtractor) {
		e.fuzzyThreshold = threshold
	}
}

// NewKeywordExtractor returns a [KeywordExtractor] with the default cue sets.
func NewKeywordExtractor(opts ...ExtractorOption) *KeywordExtractor {
	e := &KeywordExtractor{fuzzyThreshold: defaultFuzzyThreshold}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Cue sets per candidate-info key. Phrases (containing a space) are matched
// as substrings only; single words also go through the fuzzy pass.
var (
	appliedRoleCues  = []string{"applied for", "role"}
	introductionCues = []string{"introduction", "name", "experience"}
)

// Extract implements [Extractor].
func (e *KeywordExtractor) Extract(text string) map[string]string {
	lower := strings.ToLower(text)
	words := strings.Fields(lower)

	info := make(map[string]string, 2)
	if e.matchesAny(lower, words, appliedRoleCues) {
		info[InfoAppliedRole] = text
	}
	if e.matchesAny(lower, words, introductionCues) {
		info[InfoIntroduction] = text
	}
	return info
}

// matchesAny reports whether the lowered text matches any of the cues, either
// as a substring or, for single-word cues, fuzzily word by word.
func (e *KeywordExtractor) matchesAny(lower string, words, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(lower, cue) {
			return true
		}
		if strings.ContainsRune(cue, ' ') {
			continue
		}
		for _, w := range words {
			w = strings.Trim(w, ".,!?;:\"'()")
			if w == "" {
				continue
			}
			if matchr.JaroWinkler(w, cue, false) >= e.fuzzyThreshold {
				return true
			}
		}
	}
	return false
}
