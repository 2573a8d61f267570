package jobs

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired jobs are deleted.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically deletes expired jobs.
type Sweeper struct {
	jobs     *Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. A non-positive interval selects DefaultSweepInterval.
func NewSweeper(jobs *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{jobs: jobs, interval: interval, logger: slog.Default()}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.jobs.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("sweeping expired jobs", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("swept expired jobs", "count", n)
	}
}
