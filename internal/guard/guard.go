// Package guard validates and normalizes query submissions before a job is
// created, and throttles clients.
package guard

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/kalambet/paperqa/internal/apperr"
	"github.com/kalambet/paperqa/internal/complexity"
	"github.com/kalambet/paperqa/internal/generation"
	"github.com/kalambet/paperqa/internal/jobs"
	"github.com/kalambet/paperqa/internal/scoring"
	"github.com/kalambet/paperqa/internal/storage"
)

const (
	MinQueryLen = 3
	MaxQueryLen = 1000

	DefaultMaxChunksPerPaper = 3
	DefaultThreshold         = 0.3
)

// Clamp ranges for the numeric knobs.
var (
	ChunksPerPaperRange = [2]int{1, 10}
	TargetTokensRange   = [2]int{100, 10000}
	ThresholdRange      = [2]float64{0.1, 1.0}
	WeightRange         = [2]float64{0.0, 1.0}
)

// errRejected is deliberately vague so probes learn nothing from it.
var errRejected = apperr.Validation("query rejected")

// Request is a raw submission. Nil knobs take their defaults.
type Request struct {
	CorpusID          string   `json:"corpusId" mapstructure:"corpus_id"`
	Query             string   `json:"query" mapstructure:"query"`
	Model             string   `json:"model,omitempty" mapstructure:"model"`
	Complexity        string   `json:"complexity,omitempty" mapstructure:"complexity"`
	Verify            bool     `json:"verify,omitempty" mapstructure:"verify"`
	MaxChunksPerPaper *int     `json:"maxChunksPerPaper,omitempty" mapstructure:"max_chunks_per_paper"`
	TargetTokens      *int     `json:"targetTokens,omitempty" mapstructure:"target_tokens"`
	Threshold         *float64 `json:"similarityThreshold,omitempty" mapstructure:"similarity_threshold"`
	VectorWeight      *float64 `json:"vectorWeight,omitempty" mapstructure:"vector_weight"`
	LexicalWeight     *float64 `json:"lexicalWeight,omitempty" mapstructure:"lexical_weight"`
	OutputStyle       string   `json:"outputStyle,omitempty" mapstructure:"output_style"`
}

// CorpusLookup resolves corpus ids against the registry.
type CorpusLookup interface {
	GetCorpus(ctx context.Context, id string) (storage.Corpus, error)
}

// Guard turns raw requests into job params.
type Guard struct {
	corpora CorpusLookup
}

// New creates a Guard backed by the corpus registry.
func New(corpora CorpusLookup) *Guard {
	return &Guard{corpora: corpora}
}

// Validate checks req and returns normalized params with every knob clamped.
func (g *Guard) Validate(ctx context.Context, req Request) (jobs.Params, error) {
	query, err := CheckQuery(req.Query)
	if err != nil {
		return jobs.Params{}, err
	}

	corpusID := strings.TrimSpace(req.CorpusID)
	if corpusID == "" {
		return jobs.Params{}, apperr.Validation("corpus is required")
	}
	if _, err := g.corpora.GetCorpus(ctx, corpusID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return jobs.Params{}, apperr.NotFound("corpus %q not found", corpusID)
		}
		return jobs.Params{}, apperr.Persistence(err, "looking up corpus")
	}

	tier, err := complexity.Parse(req.Complexity)
	if err != nil {
		return jobs.Params{}, apperr.Validation("%v", err)
	}
	style, err := generation.ParseStyle(req.OutputStyle)
	if err != nil {
		return jobs.Params{}, apperr.Validation("%v", err)
	}

	p := jobs.Params{
		CorpusID:          corpusID,
		Query:             query,
		Model:             strings.TrimSpace(req.Model),
		Complexity:        tier,
		Verify:            req.Verify,
		MaxChunksPerPaper: clampInt(intOr(req.MaxChunksPerPaper, DefaultMaxChunksPerPaper), ChunksPerPaperRange),
		Threshold:         clampFloat(floatOr(req.Threshold, DefaultThreshold), ThresholdRange),
		Weights: scoring.Weights{
			Vector:  clampFloat(floatOr(req.VectorWeight, scoring.DefaultWeights.Vector), WeightRange),
			Lexical: clampFloat(floatOr(req.LexicalWeight, scoring.DefaultWeights.Lexical), WeightRange),
		},
		Style: style,
	}
	if req.TargetTokens != nil {
		p.TargetTokens = clampInt(*req.TargetTokens, TargetTokensRange)
	}
	return p, nil
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\b\s+(all\s+)?\bselect\b`),
	regexp.MustCompile(`(?i);\s*(drop|delete|insert|update|alter|truncate)\b`),
	regexp.MustCompile(`(?i)'\s*(or|and)\s+'?\d+'?\s*=\s*'?\d+`),
	regexp.MustCompile(`(?i)\b(exec|xp_cmdshell|pg_sleep)\s*\(|\bwaitfor\s+delay\b`),
	regexp.MustCompile(`--\s*$|/\*.*\*/`),
	regexp.MustCompile(`(?i)javascript\s*:|vbscript\s*:|data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)\bon(load|error|click|mouse[a-z]*|focus|blur|submit|change|key[a-z]*)\s*=`),
	regexp.MustCompile(`\$\{|\{\{|<%`),
}

var blockedTerms = []string{
	"drop table",
	"admin password",
	"root password",
	"system prompt",
	"ignore previous instructions",
	"ignore all previous",
	"/etc/passwd",
	"rm -rf",
	"sudo ",
}

// CheckQuery trims q and rejects empty, overlong or abusive queries.
func CheckQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	switch n := utf8.RuneCountInString(q); {
	case n == 0:
		return "", apperr.Validation("query is required")
	case n < MinQueryLen:
		return "", apperr.Validation("query must be at least %d characters", MinQueryLen)
	case n > MaxQueryLen:
		return "", apperr.Validation("query must be at most %d characters", MaxQueryLen)
	}
	if !utf8.ValidString(q) || hasControl(q) || containsMarkup(q) {
		return "", errRejected
	}
	for _, re := range injectionPatterns {
		if re.MatchString(q) {
			return "", errRejected
		}
	}
	lower := strings.ToLower(q)
	for _, term := range blockedTerms {
		if strings.Contains(lower, term) {
			return "", errRejected
		}
	}
	return q, nil
}

func hasControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}

// containsMarkup reports whether s holds any HTML tag or comment.
func containsMarkup(s string) bool {
	if !strings.Contains(s, "<") {
		return false
	}
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken, html.CommentToken, html.DoctypeToken:
			return true
		}
	}
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func clampInt(v int, r [2]int) int {
	return min(max(v, r[0]), r[1])
}

func clampFloat(v float64, r [2]float64) float64 {
	return min(max(v, r[0]), r[1])
}
