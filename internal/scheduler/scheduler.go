// Package scheduler provides scheduling logic for LeadPipe.
//
// It triggers workflow scheduler passes (execute_pending) on a cron schedule
// so the service does not depend on an external cron.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DefaultSchedule runs a pass every minute.
const DefaultSchedule = "@every 1m"

// Runner executes one pass over due enrollments.
type Runner interface {
	ExecutePending(ctx context.Context) (*models.ExecutionSummary, error)
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	stop context.CancelFunc
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser plus descriptors such as @every; overlapping
	// runs of the same job are skipped and panics are recovered.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	ctx, cancel := context.WithCancel(context.Background())
	c.Start()
	return &Scheduler{cron: c, ctx: ctx, stop: cancel}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScheduleExecutePending runs r.ExecutePending on expr. Each pass is bounded
// by timeout when it is positive.
func (s *Scheduler) ScheduleExecutePending(expr string, r Runner, timeout time.Duration) error {
	return s.AddJob(expr, func() {
		ctx := s.ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		summary, err := r.ExecutePending(ctx)
		if err != nil {
			slog.Error("Scheduler.ScheduleExecutePending: pass failed", "error", err)
			return
		}
		if summary.Processed > 0 {
			slog.Info("Scheduler.ScheduleExecutePending: pass complete", "processed", summary.Processed, "failed", summary.Failed)
		}
	})
}

// Stop stops the cron scheduler, cancels running passes and waits for them to finish.
func (s *Scheduler) Stop() {
	s.stop()
	<-s.cron.Stop().Done()
}
