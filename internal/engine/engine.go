package engine

import (
	"context"
	"errors"
)

// ErrModelNotFound is returned when a backend does not have the requested model.
var ErrModelNotFound = errors.New("model not found")

// Embedder turns text into a vector using the named model.
type Embedder interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that accept several texts per call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Completer produces a text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Engine is a local inference backend that serves both capabilities and can
// manage its own models.
type Engine interface {
	Embedder
	Completer

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
