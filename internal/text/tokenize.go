package text

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

const minTokenLen = 3

// weightDecay is the per-position penalty applied to keyword weights;
// weightFloor keeps weights inside (0,1] for arbitrarily long queries.
const (
	weightDecay = 0.1
	weightFloor = 0.05
)

// Normalize lower-cases and trims the text. Fingerprints and tokenization
// both start from this form, so it must stay cheap and deterministic.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Tokenize reduces free text to an ordered sequence of stemmed keywords.
// Tokens shorter than three runes (before or after stemming) and stop-words
// are dropped. The same input always yields the same sequence, so it is safe
// to call at save time and query time independently.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var keywords []string
	for _, tok := range fields {
		if len([]rune(tok)) < minTokenLen {
			continue
		}
		if stopWords[tok] {
			continue
		}
		stem := english.Stem(tok, false)
		if len([]rune(stem)) < minTokenLen {
			continue
		}
		keywords = append(keywords, stem)
	}
	return keywords
}

// KeywordWeight returns the ranking weight of the k-th keyword (0-indexed)
// of a query: earlier terms dominate, decaying linearly down to a floor.
func KeywordWeight(k int) float64 {
	w := 1.0 - weightDecay*float64(k)
	if w < weightFloor {
		return weightFloor
	}
	return w
}
