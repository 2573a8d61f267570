package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalambet/paperqa/internal/apperr"
	"github.com/kalambet/paperqa/internal/composer"
	"github.com/kalambet/paperqa/internal/generation"
	"github.com/kalambet/paperqa/internal/retrieval"
)

// CallTimeout bounds each external stage of a job.
const CallTimeout = 10 * time.Minute

// Retriever runs the fused-score retrieval for a job.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// AnswerGenerator writes and optionally verifies the answer.
type AnswerGenerator interface {
	Generate(ctx context.Context, req generation.Request) (string, error)
	Verify(ctx context.Context, req generation.Request, answer string) generation.Verification
}

// Runner executes a job's pipeline once. Stages run sequentially and every
// stage transition is persisted before the next stage starts.
type Runner struct {
	jobs      *Manager
	retriever Retriever
	generator AnswerGenerator
	timeout   time.Duration
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(jobs *Manager, retriever Retriever, generator AnswerGenerator) *Runner {
	return &Runner{
		jobs:      jobs,
		retriever: retriever,
		generator: generator,
		timeout:   CallTimeout,
		tracer:    otel.Tracer("github.com/kalambet/paperqa/internal/jobs"),
		logger:    slog.Default(),
	}
}

// Execute runs job id to a terminal state. It only proceeds for a pending
// job; a second trigger for a started or finished job is a no-op. Pipeline
// failures are recorded on the job and are not returned; the returned error
// covers a job that could not be loaded or claimed.
func (r *Runner) Execute(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "jobs.execute", trace.WithAttributes(attribute.String("job.id", id)))
	defer span.End()

	job, err := r.jobs.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return err
	}
	claimed, err := r.jobs.Claim(ctx, id, "Searching corpus")
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !claimed {
		r.logger.Info("job already started, ignoring trigger", "job_id", id, "status", job.Status)
		return nil
	}

	result, err := r.run(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.fail(ctx, id, err)
		return nil
	}

	if _, err := r.jobs.Advance(ctx, id, Update{Status: StatusCompleted, Result: result}); err != nil {
		span.RecordError(err)
		r.fail(ctx, id, err)
		return nil
	}
	r.logger.Debug("job completed", "job_id", id, "sources", len(result.Sources))
	return nil
}

func (r *Runner) run(ctx context.Context, job *Job) (*Result, error) {
	p := job.Params

	retrieved, err := r.retrieve(ctx, p)
	if err != nil {
		return nil, err
	}

	if err := r.progress(ctx, job.ID, fmt.Sprintf("Assembling context from %d sources", len(retrieved.Context))); err != nil {
		return nil, err
	}
	assembled := composer.Assemble(p.Query, retrieved.Context, p.Complexity.Profile().ContextCeiling)

	if err := r.progress(ctx, job.ID, "Generating answer"); err != nil {
		return nil, err
	}
	genReq := generation.Request{
		Query:   p.Query,
		Model:   p.Model,
		Tier:    p.Complexity,
		Style:   p.Style,
		Context: assembled,
	}
	answer, err := r.generator.Generate(ctx, genReq)
	if err != nil {
		return nil, err
	}

	result := &Result{Response: answer}
	if p.Verify {
		if err := r.progress(ctx, job.ID, "Verifying claims against sources"); err != nil {
			return nil, err
		}
		v := r.generator.Verify(ctx, genReq, answer)
		result.Response = v.Response
		result.Verified = v.Verified
		confidence := v.Confidence
		result.Confidence = &confidence
	}

	cited := generation.ExtractCitations(result.Response, assembled.Entries)
	result.Sources, result.AllMatching = buildSources(assembled, retrieved.AllMatching, cited)
	return result, nil
}

func (r *Runner) retrieve(ctx context.Context, p Params) (*retrieval.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "jobs.retrieve")
	defer span.End()

	res, err := r.retriever.Retrieve(ctx, retrieval.Request{
		CorpusID:          p.CorpusID,
		Query:             p.Query,
		Tier:              p.Complexity,
		MaxChunksPerPaper: p.MaxChunksPerPaper,
		TargetTokens:      p.TargetTokens,
		Threshold:         p.Threshold,
		Weights:           p.Weights,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("retrieval.context", len(res.Context)), attribute.Int("retrieval.matching", len(res.AllMatching)))
	return res, nil
}

func (r *Runner) progress(ctx context.Context, id, text string) error {
	_, err := r.jobs.Advance(ctx, id, Update{Status: StatusProcessing, Progress: text})
	return err
}

// fail makes one best-effort attempt to record err on the job. When that
// write fails too the job stays in its last persisted state until it expires.
func (r *Runner) fail(ctx context.Context, id string, cause error) {
	r.logger.Warn("job failed", "job_id", id, "kind", apperr.KindOf(cause), "error", cause)
	_, err := r.jobs.Advance(context.WithoutCancel(ctx), id, Update{Status: StatusFailed, Error: failureMessage(cause)})
	if err != nil && !errors.Is(err, ErrTerminal) {
		r.logger.Error("recording job failure", "job_id", id, "error", err)
	}
}

func failureMessage(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindUpstream:
		if errors.Is(err, context.DeadlineExceeded) {
			return "An upstream service timed out. Please try again."
		}
		return "An upstream service returned an error: " + err.Error()
	case apperr.KindPersistence:
		return "Could not save job progress: " + err.Error()
	}
	return err.Error()
}

// buildSources tags context entries and the display set. Every context entry
// is reported with its citation index; display chunks that were also in the
// context carry the same index.
func buildSources(ctx *composer.Context, matching []retrieval.ScoredChunk, cited []int) ([]Source, []Source) {
	citedSet := make(map[int]bool, len(cited))
	for _, i := range cited {
		citedSet[i] = true
	}

	sources := make([]Source, len(ctx.Entries))
	for i, e := range ctx.Entries {
		sources[i] = toSource(e.Chunk, e.Index, citedSet[e.Index])
	}

	inContext := ctx.IDs()
	all := make([]Source, len(matching))
	for i, ch := range matching {
		idx := inContext[ch.ID]
		all[i] = toSource(ch, idx, idx > 0 && citedSet[idx])
	}
	return sources, all
}

func toSource(ch retrieval.ScoredChunk, index int, cited bool) Source {
	return Source{
		Index:           index,
		ChunkID:         ch.ID,
		Content:         ch.Content,
		Metadata:        ch.Metadata,
		VectorScore:     ch.VectorScore,
		LexicalScore:    ch.LexicalScore,
		FusedScore:      ch.FusedScore,
		UsedInContext:   index > 0,
		CitedInResponse: cited,
	}
}
