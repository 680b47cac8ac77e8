// Package scheduler drives the queue advance passes on a configurable
// schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/spraakbanken/mink-backend-sub000/internal/config"
	"github.com/spraakbanken/mink-backend-sub000/internal/registry"
)

// Scheduler periodically advances the job queue.
type Scheduler struct {
	cfg      *config.Config
	reg      *registry.Registry
	schedule cron.Schedule
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler. The schedule expression supports standard cron
// syntax plus descriptors like "@every 20s".
func New(cfg *config.Config, reg *registry.Registry) (*Scheduler, error) {
	parser := cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.AdvanceSchedule)
	if err != nil {
		return nil, fmt.Errorf("parse advance schedule %q: %w", cfg.AdvanceSchedule, err)
	}
	return &Scheduler{
		cfg:      cfg,
		reg:      reg,
		schedule: schedule,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.AdvanceEnabled {
		slog.Info("Queue scheduler is disabled by configuration")
		return
	}
	slog.Info("Starting queue scheduler", "schedule", s.cfg.AdvanceSchedule)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the scheduler and waits for an in-flight pass to finish, up to
// the context deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	if !s.cfg.AdvanceEnabled {
		return
	}
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Queue scheduler stopped")
	case <-ctx.Done():
		slog.Warn("Timeout waiting for queue advance pass to complete")
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// Advance once on startup so a restart does not wait out a long
	// schedule gap before picking up queued jobs.
	s.tick(ctx)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			s.tick(ctx)
		case <-s.stopChan:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	if err := s.reg.Advance(ctx); err != nil {
		slog.Error("Queue advance pass failed", "error", err)
		return
	}
	slog.Debug("Queue advance pass completed", "duration_ms", time.Since(start).Milliseconds())
}
