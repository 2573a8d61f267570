package retrieval

import (
	"context"
	"time"

	"github.com/kalambet/paperqa/internal/scoring"
)

// ChunkStore persists corpus chunks and ranks them by fused score.
// Chunks are immutable once inserted.
type ChunkStore interface {
	// Insert adds chunks. IDs must be unique within the store.
	Insert(ctx context.Context, chunks []Chunk) error

	// Search returns chunks of q.CorpusID that match a lexical term or lie
	// within q.MaxDistance of q.Vector, ordered by fused score descending and
	// truncated to q.Limit.
	Search(ctx context.Context, q SearchQuery) ([]ScoredChunk, error)

	// Count returns the number of chunks stored for a corpus.
	Count(ctx context.Context, corpusID string) (int, error)
}

// Metadata describes the document a chunk was cut from. Zero values mean unknown.
type Metadata struct {
	DocumentID string   `json:"pmid"`
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	Year       int      `json:"year"`
	Journal    string   `json:"journal"`
	ChunkIndex int      `json:"chunkIndex"`
}

// Chunk is one stored unit of corpus text.
type Chunk struct {
	ID        string
	CorpusID  string
	Content   string
	Embedding []float32
	Metadata  Metadata
	CreatedAt time.Time
}

// SearchQuery is a single fused-score lookup.
type SearchQuery struct {
	CorpusID     string
	Vector       []float32
	LexicalTerms []string
	Weights      scoring.Weights
	// MaxDistance is the cosine-distance cutoff for vector-only candidates.
	MaxDistance float64
	Limit       int
}

// ScoredChunk is a chunk with its per-query scores. Embeddings are not loaded.
type ScoredChunk struct {
	ID           string   `json:"id"`
	Content      string   `json:"content"`
	Metadata     Metadata `json:"metadata"`
	VectorScore  float64  `json:"vectorScore"`
	LexicalScore float64  `json:"lexicalScore"`
	FusedScore   float64  `json:"fusedScore"`
}

// evaluate scores one candidate. ok is false when the chunk neither matches a
// lexical term nor falls within the distance cutoff.
func evaluate(q SearchQuery, content string, v float64) (lexical, fused float64, ok bool) {
	raw := scoring.LexicalRaw(q.LexicalTerms, content)
	if raw == 0 && 1-v >= q.MaxDistance {
		return 0, 0, false
	}
	lexical = scoring.NormalizeLexical(raw)
	return lexical, scoring.Fuse(q.Weights, v, lexical), true
}
