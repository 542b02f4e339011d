package models

import "time"

// ProgressStatus is the lifecycle state of an enrollment row.
type ProgressStatus string

const (
	ProgressActive    ProgressStatus = "active"
	ProgressPaused    ProgressStatus = "paused"
	ProgressCompleted ProgressStatus = "completed"
	ProgressRemoved   ProgressStatus = "removed"
)

// IsOpen reports whether the enrollment still counts against re-enrollment.
func (s ProgressStatus) IsOpen() bool {
	return s == ProgressActive || s == ProgressPaused
}

// IsTerminal reports whether no further transition is possible.
func (s ProgressStatus) IsTerminal() bool {
	return s == ProgressCompleted || s == ProgressRemoved
}

// Removal reasons recorded on removed rows.
const (
	RemovalReasonManual = "manual"
)

// LeadWorkflowProgress is the per-lead enrollment state for one workflow.
type LeadWorkflowProgress struct {
	ID            string         `json:"id"`
	LeadID        string         `json:"lead_id"`
	WorkflowID    string         `json:"workflow_id"`
	CampaignID    string         `json:"campaign_id,omitempty"`
	UserID        string         `json:"user_id"`
	CurrentStepID string         `json:"current_step_id,omitempty"`
	Status        ProgressStatus `json:"status"`
	NextActionAt  *time.Time     `json:"next_action_at,omitempty"`
	LastActionAt  *time.Time     `json:"last_action_at,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	RemovalReason string         `json:"removal_reason,omitempty"`
	ClaimedUntil  *time.Time     `json:"claimed_until,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsDue reports whether the row is active and its next action is at or before now.
func (p *LeadWorkflowProgress) IsDue(now time.Time) bool {
	return p.Status == ProgressActive && p.NextActionAt != nil && !p.NextActionAt.After(now)
}

// Complete marks the row completed at now. The current step pointer is kept.
func (p *LeadWorkflowProgress) Complete(now time.Time, reason string) {
	p.Status = ProgressCompleted
	p.CompletedAt = &now
	p.NextActionAt = nil
	if reason != "" {
		p.RemovalReason = reason
	}
}

// StepResult describes the outcome of executing one step for one enrollment.
type StepResult struct {
	ProgressID string         `json:"progress_id"`
	LeadID     string         `json:"lead_id"`
	WorkflowID string         `json:"workflow_id"`
	StepID     string         `json:"step_id,omitempty"`
	StepNumber int            `json:"step_number,omitempty"`
	StepType   StepType       `json:"step_type,omitempty"`
	Success    bool           `json:"success"`
	Skipped    bool           `json:"skipped,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// ExecutionSummary reports the outcome of one scheduler pass. Failures are
// listed separately so callers can surface them.
type ExecutionSummary struct {
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Paused    int          `json:"paused"`
	Completed int          `json:"completed"`
	Results   []StepResult `json:"results,omitempty"`
	Failures  []StepResult `json:"failures,omitempty"`
}

// Record adds r to the summary and updates the counters.
func (s *ExecutionSummary) Record(r StepResult) {
	s.Results = append(s.Results, r)
	switch {
	case r.Skipped:
		s.Skipped++
	case r.Success:
		s.Succeeded++
	default:
		s.Failed++
		s.Failures = append(s.Failures, r)
	}
}
