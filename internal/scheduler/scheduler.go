// Package scheduler drives recurring batch runs on a fixed interval.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Runner is the batch entry point the scheduler invokes each cycle.
type Runner interface {
	RunActive(ctx context.Context) error
}

// Scheduler triggers a Runner on a fixed cadence until its context ends.
type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runOnStart bool
	logger     *zap.Logger
}

// New builds a Scheduler. Intervals below one second are clamped to one
// second to avoid hot-looping on a misconfigured value.
func New(runner Runner, interval time.Duration, runOnStart bool, logger *zap.Logger) *Scheduler {
	if interval < time.Second {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger,
	}
}

// Run blocks until ctx is canceled, invoking one batch per tick. A failed
// cycle is logged and the cadence continues; only a fatal context end stops
// the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.runOnStart {
		s.cycle(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.runner.RunActive(ctx); err != nil {
		s.logger.Error("batch run failed", zap.Error(err))
		return
	}
	s.logger.Info("batch run complete", zap.Duration("elapsed", time.Since(start)))
}
