package preprocess

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandAddsAtMostTwoSynonyms(t *testing.T) {
	p := New(nil)
	got := p.Expand("Does CANCER spread?")

	assert.True(t, strings.HasPrefix(got, "does cancer spread?"), got)
	assert.Contains(t, got, "tumor")
	assert.Contains(t, got, "neoplasm")
	assert.NotContains(t, got, "malignancy")
}

func TestExpandMatchesPhrases(t *testing.T) {
	p := New(nil)
	got := p.Expand("risk factors for high blood pressure")
	assert.Contains(t, got, "hypertension")
}

func TestExpandDeduplicates(t *testing.T) {
	p := New(Synonyms{"gene": {"gene", "genetic"}})
	got := p.Expand("gene gene regulation")
	assert.Equal(t, "gene regulation genetic", got)
}

func TestExpandCapsLength(t *testing.T) {
	p := New(Synonyms{})
	words := make([]string, 200)
	for i := range words {
		words[i] = "word" + strings.Repeat("x", i%5) + string(rune('a'+i%26))
	}
	got := p.Expand(strings.Join(words, " "))
	assert.LessOrEqual(t, len(got), MaxExpandedLength)
	assert.False(t, strings.HasSuffix(got, " "))
}

func TestTruncateWordsCountsRunes(t *testing.T) {
	assert.Equal(t, "αβγ δεζ", truncateWords("αβγ δεζ", 7))
	assert.Equal(t, "αβγ", truncateWords("αβγ δεζ", 5))
	assert.Equal(t, "αβγ", truncateWords("αβγ δεζ", 4))

	got := truncateWords(strings.Repeat("é", 600), MaxExpandedLength)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, MaxExpandedLength, utf8.RuneCountInString(got))
}

func TestExpandNoConcept(t *testing.T) {
	p := New(nil)
	assert.Equal(t, "what is photosynthesis?", p.Expand("  What is photosynthesis?  "))
}

func TestLexicalTerms(t *testing.T) {
	assert.Equal(t, []string{"regulates", "gene"}, LexicalTerms("What regulates gene X?"))
	assert.Equal(t, []string{"dna", "repair", "patients"}, LexicalTerms("DNA repair in patients' DNA"))
	assert.Equal(t, []string{"alzheimers", "risk"}, LexicalTerms("Alzheimer's risk?"))
}

func TestLexicalTermsCap(t *testing.T) {
	terms := LexicalTerms("alpha bravo charlie delta echo foxtrot golf hotel india juliet")
	assert.Len(t, terms, MaxLexicalTerms)
	assert.Equal(t, "hotel", terms[MaxLexicalTerms-1])
}

func TestLexicalQueryEmpty(t *testing.T) {
	assert.Equal(t, "", LexicalQuery("is it of the?"))
}

func TestLoadSynonymsMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("synonyms:\n  Sepsis: [septicemia, bacteremia]\n  cancer: [carcinoma]\n"), 0o644))

	syn, err := LoadSynonyms(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"septicemia", "bacteremia"}, syn["sepsis"])
	assert.Equal(t, []string{"carcinoma"}, syn["cancer"])
	assert.Equal(t, DefaultSynonyms["liver"], syn["liver"])
}

func TestLoadSynonymsMissingFile(t *testing.T) {
	_, err := LoadSynonyms(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
