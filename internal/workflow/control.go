package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// RemoveFromWorkflow marks the lead's open enrollments removed. An empty
// workflowID removes the lead from every workflow; an empty reason records
// a manual removal.
func (e *Engine) RemoveFromWorkflow(ctx context.Context, leadID, workflowID, reason string) (int, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = models.RemovalReasonManual
	}
	n, err := e.store.RemoveProgress(leadID, workflowID, reason, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("remove lead %s from workflow: %w", leadID, err)
	}
	slog.Info("Engine.RemoveFromWorkflow: enrollments removed", "leadID", leadID, "workflowID", workflowID, "reason", reason, "count", n)
	return n, nil
}

// PauseWorkflow pauses the enrollment and sets the lead's sequence_paused
// flag so no other workflow runs for the lead either.
func (e *Engine) PauseWorkflow(ctx context.Context, leadID, workflowID string) (int, error) {
	n, err := e.store.PauseProgress(leadID, workflowID, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("pause workflow: %w", err)
	}
	if err := e.store.SetSequencePaused(leadID, true); err != nil && !errors.Is(err, store.ErrNotFound) {
		return n, fmt.Errorf("set sequence paused: %w", err)
	}
	slog.Info("Engine.PauseWorkflow: paused", "leadID", leadID, "workflowID", workflowID, "count", n)
	return n, nil
}

// ResumeWorkflow reactivates a paused enrollment at its current step, due
// immediately, and clears the lead's sequence_paused flag.
func (e *Engine) ResumeWorkflow(ctx context.Context, leadID, workflowID string) (int, error) {
	n, err := e.store.ResumeProgress(leadID, workflowID, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("resume workflow: %w", err)
	}
	if err := e.store.SetSequencePaused(leadID, false); err != nil && !errors.Is(err, store.ErrNotFound) {
		return n, fmt.Errorf("clear sequence paused: %w", err)
	}
	slog.Info("Engine.ResumeWorkflow: resumed", "leadID", leadID, "workflowID", workflowID, "count", n)
	return n, nil
}

// GetProgress lists every enrollment of the lead.
func (e *Engine) GetProgress(ctx context.Context, leadID string) ([]models.LeadWorkflowProgress, error) {
	rows, err := e.store.ListProgressForLead(leadID)
	if err != nil {
		return nil, fmt.Errorf("list progress for lead %s: %w", leadID, err)
	}
	return rows, nil
}
