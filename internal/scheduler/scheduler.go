// Package scheduler runs the scan-and-generate cycle on a fixed
// interval and sweeps stale queue items while it is at it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one scheduled cycle. The scheduler keeps ticking when a cycle
// fails.
type Job func(ctx context.Context) error

// Scheduler ticks a job at a fixed interval.
type Scheduler struct {
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	stop chan struct{}
}

func New(interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{interval: interval, logger: logger}
}

// Start launches the ticker goroutine. The job runs once immediately,
// then every interval until the context dies or Stop is called.
func (s *Scheduler) Start(ctx context.Context, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job == nil || s.stop != nil {
		return
	}

	stop := make(chan struct{})
	s.stop = stop
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx, job)
		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx, job)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the ticker goroutine.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("scheduled cycle failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled cycle finished", zap.Duration("took", time.Since(start)))
}
