package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/paperqa/internal/apperr"
	"github.com/kalambet/paperqa/internal/complexity"
	"github.com/kalambet/paperqa/internal/engine"
	"github.com/kalambet/paperqa/internal/preprocess"
	"github.com/kalambet/paperqa/internal/scoring"
	"github.com/kalambet/paperqa/internal/storage"
)

const (
	// ContextMaxDistance bounds vector-only candidates for the context pass.
	ContextMaxDistance = 0.5
	// DisplayMaxDistance bounds the wider all-matching pass.
	DisplayMaxDistance = 0.9
	// DisplayLimit caps the all-matching pass.
	DisplayLimit = 100
)

// CorpusLookup resolves a corpus id to its registry entry.
type CorpusLookup interface {
	GetCorpus(ctx context.Context, id string) (storage.Corpus, error)
}

// Request is one retrieval for a job.
type Request struct {
	CorpusID          string
	Query             string
	Tier              complexity.Tier
	MaxChunksPerPaper int
	// TargetTokens enables budget-driven selection when positive.
	TargetTokens int
	Threshold    float64
	Weights      scoring.Weights
}

// Result holds both passes. Context is what may be sent to the model;
// AllMatching is for display and is filtered by the request threshold.
type Result struct {
	ExpandedQuery string
	LexicalTerms  []string
	Candidates    int
	Context       []ScoredChunk
	AllMatching   []ScoredChunk
}

// Gateway embeds queries and runs fused-score retrieval against a ChunkStore.
type Gateway struct {
	corpora  CorpusLookup
	embedder engine.Embedder
	store    ChunkStore
	pre      *preprocess.Preprocessor
	logger   *slog.Logger
}

// NewGateway creates a Gateway. pre may be nil to use the default synonyms.
func NewGateway(corpora CorpusLookup, embedder engine.Embedder, store ChunkStore, pre *preprocess.Preprocessor) *Gateway {
	if pre == nil {
		pre = preprocess.New(nil)
	}
	return &Gateway{
		corpora:  corpora,
		embedder: embedder,
		store:    store,
		pre:      pre,
		logger:   slog.Default(),
	}
}

// Retrieve runs the context pass and the all-matching pass for req.
func (g *Gateway) Retrieve(ctx context.Context, req Request) (*Result, error) {
	corpus, err := g.corpora.GetCorpus(ctx, req.CorpusID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("corpus %q not found", req.CorpusID)
	}
	if err != nil {
		return nil, apperr.Persistence(err, "loading corpus")
	}
	if corpus.EmbeddingModel == "" || corpus.Dimensions <= 0 {
		return nil, apperr.Configuration("corpus %q has no embedding model configured", corpus.ID)
	}

	res := &Result{
		ExpandedQuery: g.pre.Expand(req.Query),
		LexicalTerms:  preprocess.LexicalTerms(req.Query),
	}

	vec, err := NewEmbedder(g.embedder, corpus.EmbeddingModel, corpus.Dimensions).Embed(ctx, res.ExpandedQuery)
	if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, engine.ErrModelNotFound) {
		return nil, &apperr.Error{Kind: apperr.KindConfiguration, Msg: "corpus " + corpus.ID, Err: err}
	}
	if err != nil {
		return nil, apperr.Upstream(err, "embedding query")
	}

	limit := req.Tier.Profile().CandidateLimit
	if req.TargetTokens > 0 {
		limit = complexity.BudgetPool
	}
	base := SearchQuery{
		CorpusID:     corpus.ID,
		Vector:       vec,
		LexicalTerms: res.LexicalTerms,
		Weights:      req.Weights,
	}

	var candidates, display []ScoredChunk
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		q := base
		q.MaxDistance, q.Limit = ContextMaxDistance, limit
		var err error
		candidates, err = g.store.Search(egCtx, q)
		return err
	})
	eg.Go(func() error {
		q := base
		q.MaxDistance, q.Limit = DisplayMaxDistance, DisplayLimit
		var err error
		display, err = g.store.Search(egCtx, q)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, apperr.Persistence(err, "searching chunks")
	}

	res.Candidates = len(candidates)
	res.Context = CapPerDocument(candidates, req.MaxChunksPerPaper)
	if req.TargetTokens > 0 {
		res.Context = SelectWithinBudget(res.Context, req.TargetTokens)
	}
	res.AllMatching = FilterByThreshold(display, req.Threshold)

	g.logger.Debug("retrieval complete",
		"corpus", corpus.ID,
		"lexical_terms", len(res.LexicalTerms),
		"candidates", res.Candidates,
		"context", len(res.Context),
		"all_matching", len(res.AllMatching),
	)
	return res, nil
}

// String renders a short description for progress messages.
func (r *Result) String() string {
	return fmt.Sprintf("%d sources selected from %d candidates", len(r.Context), r.Candidates)
}
