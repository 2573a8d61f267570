package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
	maxRetryWait   = 30 * time.Second
)

// StatusError is a non-200 reply from OpenRouter.
type StatusError struct {
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Code == http.StatusTooManyRequests {
		return fmt.Sprintf("rate limited (HTTP %d)", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from OpenRouter, which it returns
// for unknown model ids.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client communicates with the OpenRouter chat completions API. Only 429
// replies are retried; every other failure is returned to the caller.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates an OpenRouter client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{apiKey: apiKey, baseURL: defaultBaseURL, httpClient: &http.Client{}}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// WithRateLimit paces outgoing requests to at most rps per second.
// A non-positive rps disables pacing.
func (c *Client) WithRateLimit(rps float64) *Client {
	c.limiter = nil
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c
}

// Chat sends a non-streaming chat completion request. A 429 reply is retried
// after its Retry-After delay, or an exponential backoff when absent.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var out ChatResponse
		err := c.do(ctx, http.MethodPost, "/chat/completions", body, &out)
		if err == nil {
			if out.Error != nil {
				return nil, fmt.Errorf("completion error: %s", out.Error.Message)
			}
			return &out, nil
		}

		var se *StatusError
		if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
			return nil, err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}

		wait := backoff
		if se.RetryAfter > 0 {
			wait = min(se.RetryAfter, maxRetryWait)
		}
		backoff *= 2
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("rate limited after %d attempts: %w", maxAttempts, lastErr)
}

// ListModels returns the models OpenRouter currently serves.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var list ModelList
	if err := c.do(ctx, http.MethodGet, "/models", nil, &list); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

// HasModel reports whether id is in the served model list.
func (c *Client) HasModel(ctx context.Context, id string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/kalambet/paperqa")
	req.Header.Set("X-Title", "paperqa")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{
			Code:       resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
