package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kalambet/paperqa/internal/apperr"
	"github.com/kalambet/paperqa/internal/guard"
	"github.com/kalambet/paperqa/internal/jobs"
	"github.com/kalambet/paperqa/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// ServiceName labels server spans.
const ServiceName = "paperqa"

// CorpusLister lists registered corpora.
type CorpusLister interface {
	List(ctx context.Context) ([]storage.Corpus, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the collaborators the HTTP and MCP surfaces share.
type Deps struct {
	Health     Pinger
	Jobs       *jobs.Manager
	Runner     jobs.Executor
	Dispatcher jobs.Dispatcher
	Guard      *guard.Guard
	Limiter    *guard.Limiter
	Corpora    CorpusLister
	APIToken   string
}

// NewHandler builds the HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.APIToken))
		r.Post("/v1/jobs", handleSubmit(deps))
		r.Get("/v1/jobs/{id}", handleStatus(deps))
		r.Post("/v1/jobs/{id}/execute", handleExecute(deps))
		r.Post("/v1/query", handleQuery(deps))
		r.Get("/v1/corpora", handleCorpora(deps))
	})

	return otelhttp.NewHandler(r, ServiceName)
}

// SubmitResponse is returned when a job is accepted.
type SubmitResponse struct {
	JobID         string      `json:"jobId"`
	Status        jobs.Status `json:"status"`
	EstimatedTime int         `json:"estimatedTime"`
}

// JobView is the client-facing shape of a job. Fields are filled according
// to the job's status.
type JobView struct {
	JobID          string        `json:"jobId"`
	Status         jobs.Status   `json:"status"`
	Progress       string        `json:"progress,omitempty"`
	Response       string        `json:"response,omitempty"`
	Sources        []jobs.Source `json:"sources,omitempty"`
	AllMatching    []jobs.Source `json:"allMatchingChunks,omitempty"`
	Confidence     *float64      `json:"confidence,omitempty"`
	Verified       bool          `json:"verified,omitempty"`
	Error          string        `json:"error,omitempty"`
	ElapsedSeconds int           `json:"elapsedSeconds"`
}

// ViewOf projects a job onto its status-dependent view.
func ViewOf(j *jobs.Job, now time.Time) JobView {
	v := JobView{
		JobID:          j.ID,
		Status:         j.Status,
		ElapsedSeconds: int(j.Elapsed(now).Seconds()),
	}
	switch j.Status {
	case jobs.StatusCompleted:
		v.Response = j.Response
		v.Sources = j.Sources
		v.AllMatching = j.AllMatching
		v.Confidence = j.Confidence
		v.Verified = j.Verified
	case jobs.StatusFailed:
		v.Error = j.Error
	default:
		v.Progress = j.Progress
	}
	return v
}

// CorpusView is one registry entry as listed to clients.
type CorpusView struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	EmbeddingModel string `json:"embeddingModel"`
	Dimensions     int    `json:"dimensions"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health.Ping(ctx); err != nil {
				slog.Warn("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleSubmit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Limiter.Allow(guard.ClientID(r)); err != nil {
			writeError(w, err)
			return
		}
		req, ok := decodeRequest(w, r)
		if !ok {
			return
		}
		resp, err := Submit(r.Context(), deps, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

// Submit validates req, records a pending job and triggers its execution.
// It does not wait for the job.
func Submit(ctx context.Context, deps Deps, req guard.Request) (*SubmitResponse, error) {
	params, err := deps.Guard.Validate(ctx, req)
	if err != nil {
		return nil, err
	}
	job, err := deps.Jobs.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := deps.Dispatcher.Dispatch(ctx, job.ID); err != nil {
		slog.Error("dispatching job", "job_id", job.ID, "error", err)
		if _, ferr := deps.Jobs.Advance(context.WithoutCancel(ctx), job.ID, jobs.Update{
			Status: jobs.StatusFailed,
			Error:  "The job could not be scheduled. Please try again.",
		}); ferr != nil {
			slog.Error("recording dispatch failure", "job_id", job.ID, "error", ferr)
		}
		return nil, err
	}
	est := params.Complexity.EstimatedTime(params.Verify)
	return &SubmitResponse{
		JobID:         job.ID,
		Status:        job.Status,
		EstimatedTime: int(math.Ceil(est.Seconds())),
	}, nil
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ViewOf(job, time.Now().UTC()))
	}
}

func handleExecute(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Jobs.Get(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		view, err := executeAndView(r.Context(), deps, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		release, err := deps.Limiter.Acquire(guard.ClientID(r))
		if err != nil {
			writeError(w, err)
			return
		}
		defer release()

		req, ok := decodeRequest(w, r)
		if !ok {
			return
		}
		params, err := deps.Guard.Validate(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		job, err := deps.Jobs.Create(r.Context(), params)
		if err != nil {
			writeError(w, err)
			return
		}
		view, err := executeAndView(r.Context(), deps, job.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// executeAndView runs the job to completion even if the client goes away,
// then reads back its terminal state.
func executeAndView(ctx context.Context, deps Deps, id string) (JobView, error) {
	if err := deps.Runner.Execute(context.WithoutCancel(ctx), id); err != nil {
		return JobView{}, err
	}
	job, err := deps.Jobs.Get(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	return ViewOf(job, time.Now().UTC()), nil
}

func handleCorpora(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := corpusViews(r.Context(), deps.Corpora)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"corpora": list})
	}
}

func corpusViews(ctx context.Context, corpora CorpusLister) ([]CorpusView, error) {
	list, err := corpora.List(ctx)
	if err != nil {
		return nil, apperr.Persistence(err, "listing corpora")
	}
	out := make([]CorpusView, 0, len(list))
	for _, c := range list {
		out = append(out, CorpusView{
			ID:             c.ID,
			DisplayName:    c.DisplayName,
			EmbeddingModel: c.EmbeddingModel,
			Dimensions:     c.Dimensions,
		})
	}
	return out, nil
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (guard.Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req guard.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, apperr.KindValidation.String(), "invalid JSON: %v", err)
		return req, false
	}
	return req, true
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
