// Package schedule invokes a run function at a fixed interval.
package schedule

import (
	"context"
	"log/slog"
	"time"
)

// RunFunc performs one pipeline run.
type RunFunc func(ctx context.Context)

// Config configures the scheduler.
type Config struct {
	// Interval between runs. Default: 24 hours.
	Interval time.Duration
	// SkipInitial disables the run on start.
	SkipInitial bool
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
}

// Scheduler calls run on a ticker. Runs never overlap: a tick that fires
// while a run is in progress is dropped by the ticker.
type Scheduler struct {
	run    RunFunc
	config Config
	logger *slog.Logger
}

// New creates a Scheduler.
func New(run RunFunc, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{run: run, config: cfg, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("schedule: started", "interval", s.config.Interval)
	if !s.config.SkipInitial {
		s.run(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("schedule: stopped")
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}
