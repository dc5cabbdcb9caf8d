// Package fingerprint turns draft text into a compact comparable
// representation used for near-duplicate detection.
package fingerprint

import (
	"regexp"
	"strings"
)

const shingleSize = 3

var wordRe = regexp.MustCompile(`[a-zA-Z0-9']+`)

// Fingerprint is a set of word-level shingles derived from normalized text.
// The zero value is the empty-fingerprint sentinel produced for empty or
// degenerate input.
type Fingerprint struct {
	shingles map[string]struct{}
}

// New normalizes text (case-fold, strip punctuation, drop one-letter
// tokens) and shingles it. Texts shorter than the shingle width fall back
// to their token set so short strings still compare, just never spuriously
// as identical to longer ones.
func New(text string) Fingerprint {
	tokens := normalize(text)
	if len(tokens) == 0 {
		return Fingerprint{}
	}

	set := make(map[string]struct{})
	if len(tokens) < shingleSize {
		for _, t := range tokens {
			set[t] = struct{}{}
		}
		return Fingerprint{shingles: set}
	}

	for i := 0; i+shingleSize <= len(tokens); i++ {
		set[strings.Join(tokens[i:i+shingleSize], " ")] = struct{}{}
	}
	return Fingerprint{shingles: set}
}

// IsEmpty reports whether the fingerprint is the empty sentinel.
func (f Fingerprint) IsEmpty() bool {
	return len(f.shingles) == 0
}

// Size returns the number of shingles.
func (f Fingerprint) Size() int {
	return len(f.shingles)
}

// Similarity is the Jaccard similarity of two fingerprints in [0, 1].
// It is symmetric and reflexive for non-empty fingerprints; any
// comparison involving an empty fingerprint scores 0.
func Similarity(a, b Fingerprint) float64 {
	if a.IsEmpty() || b.IsEmpty() {
		return 0
	}

	small, large := a.shingles, b.shingles
	if len(small) > len(large) {
		small, large = large, small
	}

	inter := 0
	for s := range small {
		if _, ok := large[s]; ok {
			inter++
		}
	}

	union := len(a.shingles) + len(b.shingles) - inter
	return float64(inter) / float64(union)
}

func normalize(text string) []string {
	raw := wordRe.FindAllString(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, t := range raw {
		if len(t) > 1 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}
