// Package preprocess turns a raw question into the embedding text and the
// reduced lexical query used by retrieval.
package preprocess

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/paperqa/internal/scoring"
)

const (
	// MaxExpandedLength caps the text sent for embedding.
	MaxExpandedLength = 500
	// MaxLexicalTerms caps the lexical query.
	MaxLexicalTerms = 8
	// MaxSynonymsPerConcept bounds how much a single concept grows the query.
	MaxSynonymsPerConcept = 2

	minLexicalTermLength = 3
)

// Synonyms maps a lowercase concept (single word or phrase) to related terms.
type Synonyms map[string][]string

// DefaultSynonyms covers common biomedical phrasings.
var DefaultSynonyms = Synonyms{
	"cancer":              {"tumor", "neoplasm", "malignancy"},
	"tumor":               {"cancer", "neoplasm"},
	"heart attack":        {"myocardial infarction", "cardiac arrest"},
	"high blood pressure": {"hypertension"},
	"hypertension":        {"high blood pressure", "elevated blood pressure"},
	"diabetes":            {"diabetes mellitus", "hyperglycemia"},
	"stroke":              {"cerebrovascular accident", "brain ischemia"},
	"alzheimer":           {"alzheimer disease", "dementia"},
	"covid":               {"covid-19", "sars-cov-2"},
	"gene":                {"genetic", "gene expression"},
	"regulates":           {"regulation", "modulates"},
	"obesity":             {"adiposity", "overweight"},
	"inflammation":        {"inflammatory", "immune response"},
	"depression":          {"depressive disorder", "major depression"},
	"kidney":              {"renal", "nephropathy"},
	"liver":               {"hepatic", "hepatocyte"},
	"treatment":           {"therapy", "intervention"},
	"side effects":        {"adverse effects", "adverse events"},
	"antibiotic":          {"antimicrobial", "antibacterial"},
	"vaccine":             {"vaccination", "immunization"},
}

// DomainTerms are kept in the lexical query even when short or stop-word-like.
var DomainTerms = map[string]struct{}{
	"dna": {}, "rna": {}, "hiv": {}, "tb": {}, "ms": {}, "ad": {}, "pd": {},
	"ace": {}, "ckd": {}, "copd": {}, "il": {}, "t2d": {}, "mri": {}, "ct": {},
	"bmi": {}, "p53": {}, "ros": {}, "gene": {}, "cell": {}, "risk": {},
}

var stopwords = map[string]struct{}{
	"a": {}, "about": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"been": {}, "but": {}, "by": {}, "can": {}, "could": {}, "did": {}, "do": {}, "does": {},
	"for": {}, "from": {}, "had": {}, "has": {}, "have": {}, "how": {}, "if": {}, "in": {},
	"into": {}, "is": {}, "it": {}, "its": {}, "me": {}, "more": {}, "most": {}, "of": {},
	"on": {}, "or": {}, "other": {}, "should": {}, "so": {}, "some": {}, "such": {},
	"tell": {}, "than": {}, "that": {}, "the": {}, "their": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "those": {}, "to": {}, "was": {}, "were": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "while": {}, "who": {}, "why": {}, "will": {},
	"with": {}, "would": {}, "you": {}, "your": {}, "between": {}, "any": {}, "known": {},
}

// Preprocessor holds the synonym table in use.
type Preprocessor struct {
	synonyms Synonyms
	concepts []string
}

// New returns a Preprocessor using the given table, or DefaultSynonyms when nil.
func New(synonyms Synonyms) *Preprocessor {
	if synonyms == nil {
		synonyms = DefaultSynonyms
	}
	concepts := make([]string, 0, len(synonyms))
	for k := range synonyms {
		concepts = append(concepts, k)
	}
	// Longer phrases first so "high blood pressure" wins over "pressure".
	sort.Slice(concepts, func(i, j int) bool {
		if len(concepts[i]) != len(concepts[j]) {
			return len(concepts[i]) > len(concepts[j])
		}
		return concepts[i] < concepts[j]
	})
	return &Preprocessor{synonyms: synonyms, concepts: concepts}
}

type synonymFile struct {
	Synonyms Synonyms `yaml:"synonyms"`
}

// LoadSynonyms reads a YAML file of the form `synonyms: {concept: [terms]}` and
// merges it over DefaultSynonyms.
func LoadSynonyms(path string) (Synonyms, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading synonyms file: %w", err)
	}
	var f synonymFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing synonyms file %s: %w", path, err)
	}
	merged := make(Synonyms, len(DefaultSynonyms)+len(f.Synonyms))
	for k, v := range DefaultSynonyms {
		merged[k] = v
	}
	for k, v := range f.Synonyms {
		merged[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return merged, nil
}

// Expand lowercases the query, appends synonyms of matched concepts,
// removes duplicate tokens and caps the result at MaxExpandedLength.
func (p *Preprocessor) Expand(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	tokens := strings.Fields(q)
	normalized := " " + strings.Join(wordTokens(q), " ") + " "

	for _, concept := range p.concepts {
		if !strings.Contains(normalized, " "+concept+" ") {
			continue
		}
		added := 0
		for _, syn := range p.synonyms[concept] {
			if added == MaxSynonymsPerConcept {
				break
			}
			syn = strings.ToLower(syn)
			if strings.Contains(normalized, " "+syn+" ") {
				continue
			}
			tokens = append(tokens, strings.Fields(syn)...)
			added++
		}
	}

	return truncateWords(strings.Join(dedup(tokens), " "), MaxExpandedLength)
}

// LexicalTerms reduces the query to at most MaxLexicalTerms content words.
func LexicalTerms(query string) []string {
	var terms []string
	seen := make(map[string]struct{})
	for _, tok := range wordTokens(strings.ToLower(query)) {
		if _, dup := seen[tok]; dup {
			continue
		}
		if _, keep := DomainTerms[tok]; !keep {
			if _, stop := stopwords[tok]; stop || len([]rune(tok)) < minLexicalTermLength {
				continue
			}
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
		if len(terms) == MaxLexicalTerms {
			break
		}
	}
	return terms
}

// LexicalQuery is LexicalTerms joined with spaces.
func LexicalQuery(query string) string {
	return strings.Join(LexicalTerms(query), " ")
}

// wordTokens splits s the same way chunk text is split for lexical scoring.
func wordTokens(s string) []string {
	return scoring.Words(s)
}

func dedup(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// truncateWords caps s at max characters, cutting at the last space that
// fits or, for a single long word, at a rune boundary.
func truncateWords(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	end, n := 0, 0
	for i := range s {
		if n == max {
			end = i
			break
		}
		n++
	}
	// s[end] is the first rune past the cap; a space there ends a whole word.
	if cut := strings.LastIndexByte(s[:end+1], ' '); cut > 0 {
		return s[:cut]
	}
	return s[:end]
}
