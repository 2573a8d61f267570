// Package scoring fuses vector similarity with lexical relevance.
package scoring

import (
	"math"
	"strings"
	"unicode"
)

// LexicalNormalization divides a raw lexical score into [0,1].
const LexicalNormalization = 0.1

// Weights controls how vector and lexical scores are combined.
type Weights struct {
	Vector  float64 `json:"vectorWeight"`
	Lexical float64 `json:"lexicalWeight"`
}

// DefaultWeights favours semantic similarity.
var DefaultWeights = Weights{Vector: 0.7, Lexical: 0.3}

// Fuse combines a cosine similarity v and a normalized lexical score l,
// clamped into [0,1]. A zero weight selects the other signal alone.
func Fuse(w Weights, v, l float64) float64 {
	switch {
	case w.Vector == 0:
		return l
	case w.Lexical == 0:
		return v
	}
	return clamp01(w.Vector*v + w.Lexical*l)
}

// NormalizeLexical maps a raw lexical score into [0,1].
func NormalizeLexical(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return math.Min(raw/LexicalNormalization, 1)
}

// Similarity converts a cosine distance to a similarity clamped into [0,1].
func Similarity(distance float64) float64 {
	return clamp01(1 - distance)
}

// LexicalRaw scores text against lexical query terms. Each matched term
// contributes its log-damped frequency; the sum is divided by the token
// count of text.
func LexicalRaw(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	var score float64
	for _, term := range terms {
		if n := freq[term]; n > 0 {
			score += 1 + math.Log(float64(n))
		}
	}
	return score / float64(len(tokens))
}

// Matches reports whether any lexical term occurs in text.
func Matches(terms []string, text string) bool {
	if len(terms) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	for _, tok := range Tokenize(text) {
		if _, ok := set[tok]; ok {
			return true
		}
	}
	return false
}

var apostrophes = strings.NewReplacer("'", "", "’", "")

// Words drops apostrophes, so "Crohn's" stays one word, and splits text on
// anything that is not a letter or digit. Case is preserved.
func Words(text string) []string {
	return strings.FieldsFunc(apostrophes.Replace(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Tokenize lowercases text and splits it into Words. Query terms and chunk
// text go through the same rules.
func Tokenize(text string) []string {
	return Words(strings.ToLower(text))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
