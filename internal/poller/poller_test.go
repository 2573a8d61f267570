package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequence returns a fetch func that replays statuses, repeating the last one.
func sequence(statuses ...Status) (func(context.Context) (string, Status, error), *int) {
	calls := 0
	return func(context.Context) (string, Status, error) {
		i := min(calls, len(statuses)-1)
		calls++
		return "result-" + statuses[i].Status, statuses[i], nil
	}, &calls
}

func TestPoll_Completes(t *testing.T) {
	fetch, calls := sequence(
		Status{Status: "pending"},
		Status{Status: "processing", Progress: "Searching corpus"},
		Status{Status: "processing", Progress: "Generating answer"},
		Status{Status: "completed"},
	)
	var progress []string
	completed := 0

	v, err := Poll(context.Background(), fetch, Options{
		Interval:   time.Millisecond,
		OnProgress: func(s Status) { progress = append(progress, s.Progress) },
		OnComplete: func(Status) { completed++ },
		OnError:    func(error) { t.Error("OnError called on success") },
	})
	require.NoError(t, err)
	assert.Equal(t, "result-completed", v)
	assert.Equal(t, 4, *calls)
	assert.Equal(t, []string{"", "Searching corpus", "Generating answer"}, progress)
	assert.Equal(t, 1, completed)
}

func TestPoll_FailedSurfacesServerError(t *testing.T) {
	fetch, _ := sequence(Status{Status: "processing"}, Status{Status: "failed", Error: "embedding service unavailable"})
	var reported error

	_, err := Poll(context.Background(), fetch, Options{
		Interval: time.Millisecond,
		OnError:  func(e error) { reported = e },
	})
	var failed *JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "embedding service unavailable", failed.Error())
	assert.Equal(t, err, reported)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestPoll_TimeoutIsDistinct(t *testing.T) {
	fetch, calls := sequence(Status{Status: "processing"})

	_, err := Poll(context.Background(), fetch, Options{Interval: time.Millisecond, MaxAttempts: 5})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 5, *calls)

	var failed *JobFailedError
	assert.False(t, errors.As(err, &failed))
}

func TestPoll_FetchError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := Poll(context.Background(), func(context.Context) (int, Status, error) {
		return 0, Status{}, boom
	}, Options{Interval: time.Millisecond})
	assert.ErrorIs(t, err, boom)
}

func TestPoll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch, _ := sequence(Status{Status: "pending"})

	done := make(chan error, 1)
	go func() {
		_, err := Poll(ctx, fetch, Options{Interval: time.Hour})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Poll did not return after cancellation")
	}
}

func TestPoll_Defaults(t *testing.T) {
	fetch, calls := sequence(Status{Status: "completed"})
	_, err := Poll(context.Background(), fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, Status{Status: "completed"}.Terminal())
	assert.True(t, Status{Status: "failed"}.Terminal())
	assert.False(t, Status{Status: "processing"}.Terminal())
}
