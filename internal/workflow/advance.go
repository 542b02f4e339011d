package workflow

import (
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// NextActionAt returns when step should fire if it becomes current at now.
// Non-wait steps fire immediately. A wait step fires after its combined
// delay, snapped to time_of_day in loc; a time already passed on the delayed
// date rolls to the following day.
func NextActionAt(step models.WorkflowStep, now time.Time, loc *time.Location) time.Time {
	if step.StepType != models.StepTypeWait {
		return now
	}
	cfg, err := step.Config()
	if err != nil {
		slog.Warn("NextActionAt: invalid wait config, firing immediately", "stepID", step.ID, "error", err)
		return now
	}
	wait, ok := cfg.(models.WaitConfig)
	if !ok {
		return now
	}

	at := now.Add(wait.Delay())
	if strings.TrimSpace(wait.TimeOfDay) == "" {
		return at
	}
	hour, minute, err := wait.Clock()
	if err != nil {
		slog.Warn("NextActionAt: ignoring invalid time_of_day", "stepID", step.ID, "timeOfDay", wait.TimeOfDay)
		return at
	}
	if loc == nil {
		loc = time.UTC
	}
	local := at.In(loc)
	snapped := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if snapped.Before(local) {
		snapped = snapped.AddDate(0, 0, 1)
	}
	return snapped.UTC()
}

// advance moves p past current: the step numbered current+1 becomes current,
// or the enrollment completes when there is none.
func advance(p *models.LeadWorkflowProgress, def *models.WorkflowDefinition, current *models.WorkflowStep, now time.Time, loc *time.Location) {
	next := def.StepByNumber(current.StepNumber + 1)
	if next == nil {
		p.Complete(now, "")
		return
	}
	at := NextActionAt(*next, now, loc)
	p.CurrentStepID = next.ID
	p.NextActionAt = &at
}
