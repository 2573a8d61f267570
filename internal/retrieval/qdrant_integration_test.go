//go:build integration

package retrieval

import (
	"context"
	"os"
	"testing"

	"github.com/kalambet/paperqa/internal/scoring"
)

// Requires a Qdrant instance; set QDRANT_ADDR (default localhost:6334).
func TestQdrantStore_InsertAndSearch(t *testing.T) {
	addr := os.Getenv("QDRANT_ADDR")
	if addr == "" {
		addr = "localhost:6334"
	}
	s, err := NewQdrantStore(addr, "paperqa_test")
	if err != nil {
		t.Fatalf("NewQdrantStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.EnsureCollection(ctx, 3); err != nil {
		t.Skipf("qdrant unavailable: %v", err)
	}

	if err := s.Insert(ctx, []Chunk{
		testChunk("q1", "A", "brca1 mutation", 0.95),
		testChunk("q2", "B", "unrelated", 0.1),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, SearchQuery{
		CorpusID:     "pubmed",
		Vector:       []float32{1, 0, 0},
		LexicalTerms: []string{"brca1"},
		Weights:      scoring.DefaultWeights,
		MaxDistance:  0.5,
		Limit:        5,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].ID != "q1" {
		t.Errorf("results = %+v, want q1 first", results)
	}
}
