// Package scheduler runs the service's periodic jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a periodic task. The context is cancelled when the scheduler stops.
type Job func(ctx context.Context) error

// Scheduler manages all cron tasks.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// New creates a Scheduler whose schedules are read in loc.
func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "scheduler"),
	}
}

// Register adds job under name on spec, a standard cron expression or a
// descriptor such as "@every 30s" or "@daily". Runs of one job never overlap.
func (s *Scheduler) Register(name, spec string, job Job) error {
	log := s.logger.With("job", name)
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		started := time.Now()
		if err := job(s.ctx); err != nil {
			log.Error("❌ [ERROR] Job failed", "error", err, "duration", time.Since(started))
			return
		}
		log.Debug("✅ [SUCCESS] Job done", "duration", time.Since(started))
	}))
	if _, err := s.cron.AddJob(spec, wrapped); err != nil {
		return fmt.Errorf("register %s job: %w", name, err)
	}
	log.Info("job registered", "spec", spec)
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.logger.Info("scheduler stopped")
}
