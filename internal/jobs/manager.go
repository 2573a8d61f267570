package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/paperqa/internal/apperr"
	"github.com/kalambet/paperqa/internal/storage"
)

// ErrTerminal is returned by Advance when the job already completed or failed.
var ErrTerminal = storage.ErrTerminal

// Store is the persistence the Manager needs.
type Store interface {
	CreateQueryJob(ctx context.Context, j storage.QueryJob) error
	GetQueryJob(ctx context.Context, id string) (storage.QueryJob, error)
	ClaimQueryJob(ctx context.Context, id, progress string, at time.Time) (bool, error)
	UpdateJobProgress(ctx context.Context, id, progress string, at time.Time) error
	CompleteQueryJob(ctx context.Context, id string, r storage.JobResult, at time.Time) error
	FailQueryJob(ctx context.Context, id, errMsg string, at time.Time) error
	DeleteExpiredJobs(ctx context.Context, now time.Time) (int64, error)
}

// Update is one transition requested through Advance.
type Update struct {
	Status   Status
	Progress string
	Error    string
	Result   *Result
}

// Manager is the only writer of query jobs.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates a Manager. A non-positive ttl selects DefaultTTL.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
}

// Create records a pending job for p.
func (m *Manager) Create(ctx context.Context, p Params) (*Job, error) {
	params, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	now := m.now().Truncate(time.Second)
	row := storage.QueryJob{
		ID:         uuid.NewString(),
		Status:     storage.StatusPending,
		ParamsJSON: string(params),
		Progress:   "Queued",
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
	if err := m.store.CreateQueryJob(ctx, row); err != nil {
		return nil, apperr.Persistence(err, "creating job")
	}
	m.logger.Debug("job created", "job_id", row.ID, "corpus", p.CorpusID, "complexity", p.Complexity)
	return &Job{
		ID:        row.ID,
		Status:    StatusPending,
		Params:    p,
		Progress:  row.Progress,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// Get returns the job. A job past its expiry is reported as expired whatever
// its stored status.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	row, err := m.store.GetQueryJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("job %s not found", id)
	}
	if err != nil {
		return nil, apperr.Persistence(err, "reading job")
	}
	if m.now().After(row.ExpiresAt) {
		return nil, apperr.Expired("job %s has expired", id)
	}
	return decodeJob(row)
}

// Claim moves a pending job into processing. It reports false when another
// trigger already started the job.
func (m *Manager) Claim(ctx context.Context, id, progress string) (bool, error) {
	ok, err := m.store.ClaimQueryJob(ctx, id, progress, m.now())
	if errors.Is(err, storage.ErrNotFound) {
		return false, apperr.NotFound("job %s not found", id)
	}
	if err != nil {
		return false, apperr.Persistence(err, "claiming job")
	}
	return ok, nil
}

// Advance applies one transition. Writes to a terminal job return ErrTerminal
// and leave the stored job untouched.
func (m *Manager) Advance(ctx context.Context, id string, u Update) (*Job, error) {
	now := m.now()
	var err error
	switch u.Status {
	case StatusProcessing:
		err = m.store.UpdateJobProgress(ctx, id, u.Progress, now)
	case StatusCompleted:
		if u.Result == nil {
			return nil, fmt.Errorf("completing job %s: missing result", id)
		}
		var res storage.JobResult
		res, err = encodeResult(*u.Result)
		if err != nil {
			return nil, err
		}
		err = m.store.CompleteQueryJob(ctx, id, res, now)
	case StatusFailed:
		err = m.store.FailQueryJob(ctx, id, u.Error, now)
	default:
		return nil, fmt.Errorf("cannot advance job %s to %q", id, u.Status)
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, apperr.NotFound("job %s not found", id)
	case errors.Is(err, storage.ErrTerminal):
		return nil, fmt.Errorf("advancing job %s to %s: %w", id, u.Status, ErrTerminal)
	case err != nil:
		return nil, apperr.Persistence(err, "updating job")
	}
	m.logger.Debug("job advanced", "job_id", id, "status", u.Status, "progress", u.Progress)

	row, err := m.store.GetQueryJob(ctx, id)
	if err != nil {
		return nil, apperr.Persistence(err, "reading job")
	}
	return decodeJob(row)
}

// SweepExpired deletes jobs whose expiry has passed and returns the count.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredJobs(ctx, m.now())
	if err != nil {
		return 0, apperr.Persistence(err, "sweeping expired jobs")
	}
	return n, nil
}

func encodeResult(r Result) (storage.JobResult, error) {
	sources, err := json.Marshal(nonNilSources(r.Sources))
	if err != nil {
		return storage.JobResult{}, fmt.Errorf("encoding sources: %w", err)
	}
	all, err := json.Marshal(nonNilSources(r.AllMatching))
	if err != nil {
		return storage.JobResult{}, fmt.Errorf("encoding matching chunks: %w", err)
	}
	return storage.JobResult{
		Response:        r.Response,
		SourcesJSON:     string(sources),
		AllMatchingJSON: string(all),
		Confidence:      r.Confidence,
		Verified:        r.Verified,
	}, nil
}

func decodeJob(row storage.QueryJob) (*Job, error) {
	j := &Job{
		ID:          row.ID,
		Status:      Status(row.Status),
		Progress:    row.Progress,
		Response:    row.Response,
		Confidence:  row.Confidence,
		Verified:    row.Verified,
		Error:       row.Error,
		CreatedAt:   row.CreatedAt,
		StartedAt:   row.StartedAt,
		CompletedAt: row.CompletedAt,
		ExpiresAt:   row.ExpiresAt,
	}
	if err := json.Unmarshal([]byte(row.ParamsJSON), &j.Params); err != nil {
		return nil, fmt.Errorf("decoding params of job %s: %w", row.ID, err)
	}
	if row.SourcesJSON != "" {
		if err := json.Unmarshal([]byte(row.SourcesJSON), &j.Sources); err != nil {
			return nil, fmt.Errorf("decoding sources of job %s: %w", row.ID, err)
		}
	}
	if row.AllMatchingJSON != "" {
		if err := json.Unmarshal([]byte(row.AllMatchingJSON), &j.AllMatching); err != nil {
			return nil, fmt.Errorf("decoding matching chunks of job %s: %w", row.ID, err)
		}
	}
	return j, nil
}

func nonNilSources(s []Source) []Source {
	if s == nil {
		return []Source{}
	}
	return s
}
