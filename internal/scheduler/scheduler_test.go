package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

type countingRunner struct {
	calls atomic.Int32
}

func (r *countingRunner) ExecutePending(ctx context.Context) (*models.ExecutionSummary, error) {
	r.calls.Add(1)
	return &models.ExecutionSummary{}, nil
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob(DefaultSchedule, func() {}); err != nil {
		t.Errorf("Expected descriptor schedule to parse, got %v", err)
	}
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
}

func TestScheduleExecutePending(t *testing.T) {
	s := NewScheduler()
	r := &countingRunner{}
	if err := s.ScheduleExecutePending("@every 1s", r, time.Second); err != nil {
		t.Fatalf("ScheduleExecutePending: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for r.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
	if r.calls.Load() == 0 {
		t.Fatal("expected at least one pass to run")
	}
}
