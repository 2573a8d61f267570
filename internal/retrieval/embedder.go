package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/paperqa/internal/engine"
	"golang.org/x/sync/errgroup"
)

// ErrDimensionMismatch is returned when the embedding service returns a vector
// whose length differs from the corpus's declared dimensionality.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

const (
	embedConcurrency = 4
	batchSize        = 32
)

// Embedder binds an embedding backend to one corpus's model and dimensionality.
type Embedder struct {
	engine engine.Embedder
	model  string
	dims   int
}

// NewEmbedder creates an Embedder. dims <= 0 disables the dimension check.
func NewEmbedder(e engine.Embedder, model string, dims int) *Embedder {
	return &Embedder{engine: e, model: model, dims: dims}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if err := e.check(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch returns one vector per text, in order. Engines that accept
// batches get groups of batchSize texts per call; others are called once per
// text with bounded concurrency. Returns nil (not error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if b, ok := e.engine.(engine.BatchEmbedder); ok {
		return e.embedGroups(ctx, b, texts)
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.engine.Embed(gCtx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			if err := e.check(vec); err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Embedder) embedGroups(ctx context.Context, b engine.BatchEmbedder, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		group := texts[start:min(start+batchSize, len(texts))]
		vecs, err := b.EmbedBatch(ctx, e.model, group)
		if err != nil {
			return nil, fmt.Errorf("embedding texts %d-%d: %w", start, start+len(group)-1, err)
		}
		for _, vec := range vecs {
			if err := e.check(vec); err != nil {
				return nil, err
			}
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (e *Embedder) check(vec []float32) error {
	if e.dims > 0 && len(vec) != e.dims {
		return fmt.Errorf("%w: model %s returned %d dimensions, corpus expects %d", ErrDimensionMismatch, e.model, len(vec), e.dims)
	}
	return nil
}
