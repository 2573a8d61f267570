// Package poller polls a job's status until it reaches a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 90
)

// ErrTimeout is returned when the poll budget runs out before the job
// finishes. It is distinct from a job the server reports as failed.
var ErrTimeout = errors.New("timed out waiting for job to finish")

// Status is the subset of a job status read the poller needs.
type Status struct {
	Status   string
	Progress string
	Error    string
	Elapsed  time.Duration
}

// Terminal reports whether the job is completed or failed.
func (s Status) Terminal() bool {
	return s.Status == "completed" || s.Status == "failed"
}

// JobFailedError carries the server-reported failure text verbatim.
type JobFailedError struct {
	Message string
}

func (e *JobFailedError) Error() string { return e.Message }

// Options configures Poll. Zero values take the defaults.
type Options struct {
	Interval    time.Duration
	MaxAttempts int

	// OnProgress is called for every non-terminal status read.
	OnProgress func(Status)
	// OnComplete is called once when the job completes.
	OnComplete func(Status)
	// OnError is called once with the failure, timeout or fetch error.
	OnError func(error)
}

// Poll calls fetch every Interval until the job is terminal, fetch fails, ctx
// is cancelled, or MaxAttempts reads have been made. Stopping never affects
// the job on the server. A failed job returns *JobFailedError.
func Poll[T any](ctx context.Context, fetch func(context.Context) (T, Status, error), opts Options) (T, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	var zero T
	report := func(err error) (T, error) {
		if opts.OnError != nil {
			opts.OnError(err)
		}
		return zero, err
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		v, st, err := fetch(ctx)
		if err != nil {
			return report(fmt.Errorf("fetching job status: %w", err))
		}
		switch st.Status {
		case "completed":
			if opts.OnComplete != nil {
				opts.OnComplete(st)
			}
			return v, nil
		case "failed":
			return report(&JobFailedError{Message: st.Error})
		}
		if opts.OnProgress != nil {
			opts.OnProgress(st)
		}
		if attempt >= opts.MaxAttempts {
			return report(ErrTimeout)
		}

		select {
		case <-ctx.Done():
			return report(ctx.Err())
		case <-ticker.C:
		}
	}
}
