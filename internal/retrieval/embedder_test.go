package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// mockEmbedder implements engine.Embedder for testing.
type mockEmbedder struct {
	embedFn func(ctx context.Context, model string, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) * 0.001
	}
	return v
}

func TestEmbed_ReturnsDimension(t *testing.T) {
	mock := &mockEmbedder{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(384), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 384)

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("got %d dimensions, want 384", len(vec))
	}
}

func TestEmbed_OllamaError(t *testing.T) {
	mock := &mockEmbedder{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 384)

	_, err := e.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestEmbedBatch_CountMatches(t *testing.T) {
	mock := &mockEmbedder{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(384), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 384)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Errorf("got %d vectors, want 3", len(vecs))
	}
}

func TestEmbedBatch_OllamaError(t *testing.T) {
	mock := &mockEmbedder{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			if text == "b" {
				return nil, errors.New("embedding failed")
			}
			return makeVector(384), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 384)

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "embedding failed") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	mock := &mockEmbedder{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			t.Fatal("should not be called for empty input")
			return nil, nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 384)

	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	mock := &mockEmbedder{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(768), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 384)

	_, err := e.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("error = %v, want ErrDimensionMismatch", err)
	}
	if !strings.Contains(err.Error(), "768") {
		t.Errorf("error %q should mention the returned dimension", err)
	}
}

func TestEmbed_DimensionCheckDisabled(t *testing.T) {
	mock := &mockEmbedder{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(12), nil
		},
	}
	e := NewEmbedder(mock, "tiny", 0)

	if _, err := e.Embed(context.Background(), "hello"); err != nil {
		t.Errorf("Embed: %v", err)
	}
}

func TestEmbedBatch_DimensionMismatch(t *testing.T) {
	mock := &mockEmbedder{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			if text == "c" {
				return makeVector(10), nil
			}
			return makeVector(384), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 384)

	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}

// mockBatchEmbedder records the group sizes it is called with.
type mockBatchEmbedder struct {
	mockEmbedder
	dims   int
	groups []int
}

func (m *mockBatchEmbedder) EmbedBatch(_ context.Context, _ string, texts []string) ([][]float32, error) {
	m.groups = append(m.groups, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = makeVector(m.dims)
	}
	return out, nil
}

func TestEmbedBatch_UsesBatchEngineInGroups(t *testing.T) {
	mock := &mockBatchEmbedder{dims: 8}
	mock.embedFn = func(context.Context, string, string) ([]float32, error) {
		t.Fatal("single Embed called despite batch support")
		return nil, nil
	}
	e := NewEmbedder(mock, "nomic-embed-text", 8)

	texts := make([]string, batchSize+5)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Errorf("got %d vectors, want %d", len(vecs), len(texts))
	}
	if len(mock.groups) != 2 || mock.groups[0] != batchSize || mock.groups[1] != 5 {
		t.Errorf("groups = %v, want [%d 5]", mock.groups, batchSize)
	}
}

func TestEmbedBatch_BatchDimensionMismatch(t *testing.T) {
	mock := &mockBatchEmbedder{dims: 384}
	e := NewEmbedder(mock, "nomic-embed-text", 768)
	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}
