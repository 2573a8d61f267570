package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/paperqa/internal/apperr"
	"github.com/kalambet/paperqa/internal/complexity"
	"github.com/kalambet/paperqa/internal/composer"
	"github.com/kalambet/paperqa/internal/engine"
)

const (
	// CallTimeout bounds every completion call.
	CallTimeout = 10 * time.Minute

	// NeutralConfidence is reported when verification could not run.
	NeutralConfidence = 50.0

	answerTemperature = 0.3
	verifyTemperature = 0.0
	verifyHeadroom    = 500
)

const (
	responseMarker   = "VERIFIED_RESPONSE:"
	confidenceMarker = "CONFIDENCE:"
)

// Request is one answer to generate.
type Request struct {
	Query   string
	Model   string
	Tier    complexity.Tier
	Style   Style
	Context *composer.Context
}

// Verification is the outcome of a fact-check. Verified is true whenever a
// check was attempted; Degraded marks a check that fell back to the draft.
type Verification struct {
	Response   string
	Confidence float64
	Verified   bool
	Degraded   bool
}

// Generator calls the completion service for answers and fact-checks.
type Generator struct {
	completer engine.Completer
	model     string
	timeout   time.Duration
	logger    *slog.Logger
}

// New returns a Generator using model unless a request names another.
// A non-positive timeout selects CallTimeout.
func New(completer engine.Completer, model string, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = CallTimeout
	}
	return &Generator{
		completer: completer,
		model:     model,
		timeout:   timeout,
		logger:    slog.Default(),
	}
}

// Generate produces the cited answer. A missing model is a configuration
// error; any other service failure is an upstream error.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.completer.Complete(ctx, engine.CompletionRequest{
		Model:       g.modelFor(req),
		System:      systemPrompt,
		Prompt:      AnswerPrompt(req.Style, req.Tier, req.Query, req.Context),
		MaxTokens:   req.Tier.Profile().MaxTokens,
		Temperature: answerTemperature,
	})
	if errors.Is(err, engine.ErrModelNotFound) {
		return "", &apperr.Error{Kind: apperr.KindConfiguration, Msg: "completion model " + g.modelFor(req) + " is not available", Err: err}
	}
	if err != nil {
		return "", apperr.Upstream(err, "generating answer")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Upstream(errors.New("empty completion"), "generating answer")
	}
	return text, nil
}

// Verify fact-checks answer against the request's sources. It never fails:
// on any error the draft is returned with NeutralConfidence.
func (g *Generator) Verify(ctx context.Context, req Request, answer string) Verification {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	fallback := Verification{Response: answer, Confidence: NeutralConfidence, Verified: true, Degraded: true}

	resp, err := g.completer.Complete(ctx, engine.CompletionRequest{
		Model:       g.modelFor(req),
		Prompt:      VerifyPrompt(answer, req.Context),
		MaxTokens:   req.Tier.Profile().MaxTokens + verifyHeadroom,
		Temperature: verifyTemperature,
	})
	if err != nil {
		g.logger.Warn("verification call failed, keeping draft", "error", err)
		return fallback
	}

	text, confidence, err := parseVerification(resp)
	if err != nil {
		g.logger.Warn("verification reply unparsable, keeping draft", "error", err)
		return fallback
	}
	return Verification{Response: text, Confidence: confidence, Verified: true}
}

func (g *Generator) modelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return g.model
}

var confidencePattern = regexp.MustCompile(`^\s*\**\s*(\d{1,3}(?:\.\d+)?)`)

// parseVerification extracts the annotated answer and confidence from a
// fact-check reply. Markdown code fences around the reply are tolerated.
func parseVerification(resp string) (string, float64, error) {
	s := stripFences(resp)

	ri := strings.Index(s, responseMarker)
	ci := strings.LastIndex(s, confidenceMarker)
	if ri == -1 || ci == -1 {
		return "", 0, fmt.Errorf("missing %s or %s marker", responseMarker, confidenceMarker)
	}

	var text string
	if ci > ri {
		text = s[ri+len(responseMarker) : ci]
	} else {
		text = s[ri+len(responseMarker):]
	}
	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), "*"))
	if text == "" {
		return "", 0, errors.New("empty verified response")
	}

	m := confidencePattern.FindStringSubmatch(s[ci+len(confidenceMarker):])
	if m == nil {
		return "", 0, errors.New("confidence is not a number")
	}
	confidence, err := strconv.ParseFloat(m[1], 64)
	if err != nil || confidence < 0 || confidence > 100 {
		return "", 0, fmt.Errorf("confidence %q out of range", m[1])
	}
	return text, confidence, nil
}

func stripFences(resp string) string {
	s := strings.TrimSpace(resp)
	if idx := strings.Index(s, "```"); idx != -1 {
		inner := s[idx+3:]
		if nl := strings.IndexByte(inner, '\n'); nl != -1 && !strings.Contains(inner[:nl], ":") {
			inner = inner[nl+1:]
		}
		if end := strings.Index(inner, "```"); end != -1 {
			inner = inner[:end]
		}
		s = inner
	}
	return s
}
