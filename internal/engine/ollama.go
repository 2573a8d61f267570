package engine

import (
	"context"
	"fmt"

	"github.com/kalambet/paperqa/internal/ollama"
)

var (
	_ Engine        = (*OllamaEngine)(nil)
	_ BatchEmbedder = (*OllamaEngine)(nil)
)

// OllamaEngine serves embeddings and completions from an Ollama server.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	msgs := make([]ollama.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: req.Prompt})

	out, err := e.client.Chat(ctx, req.Model, msgs, &ollama.Options{
		NumPredict:  req.MaxTokens,
		Temperature: req.Temperature,
	})
	return out, modelError(req.Model, err)
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, model, text)
	return vec, modelError(model, err)
}

func (e *OllamaEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vecs, err := e.client.EmbedBatch(ctx, model, texts)
	return vecs, modelError(model, err)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}

// modelError tags a missing-model reply with ErrModelNotFound.
func modelError(model string, err error) error {
	if err == nil || !ollama.IsModelNotFound(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrModelNotFound, model, err)
}
