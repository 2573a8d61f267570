package engine

import (
	"context"
	"fmt"

	"github.com/kalambet/paperqa/internal/proxy"
)

var _ Completer = (*OpenRouterCompleter)(nil)

// OpenRouterCompleter serves completions from OpenRouter.
type OpenRouterCompleter struct {
	client *proxy.Client
}

// NewOpenRouterCompleter wraps an OpenRouter client.
func NewOpenRouterCompleter(client *proxy.Client) *OpenRouterCompleter {
	return &OpenRouterCompleter{client: client}
}

func (o *OpenRouterCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	msgs := make([]proxy.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, proxy.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, proxy.Message{Role: "user", Content: req.Prompt})

	resp, err := o.client.Chat(ctx, proxy.ChatRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if proxy.IsNotFound(err) {
		return "", fmt.Errorf("%w: %s: %w", ErrModelNotFound, req.Model, err)
	}
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion %s returned no choices", resp.ID)
	}
	return resp.Content(), nil
}
