package models

import (
	"encoding/json"
	"sort"
	"time"
)

// StepType identifies the action a workflow step performs.
type StepType string

const (
	StepTypeCall         StepType = "call"
	StepTypeSMS          StepType = "sms"
	StepTypeAISMS        StepType = "ai_sms"
	StepTypeWait         StepType = "wait"
	StepTypeWebhook      StepType = "webhook"
	StepTypeTag          StepType = "tag"
	StepTypeUpdateStatus StepType = "update_status"
	StepTypeCondition    StepType = "condition"
	StepTypeBranch       StepType = "branch"
	StepTypeEnd          StepType = "end"
	StepTypeStop         StepType = "stop"
)

// IsKnownStepType reports whether the executor has a handler for t.
func IsKnownStepType(t StepType) bool {
	switch t {
	case StepTypeCall, StepTypeSMS, StepTypeAISMS, StepTypeWait, StepTypeWebhook,
		StepTypeTag, StepTypeUpdateStatus, StepTypeCondition, StepTypeBranch,
		StepTypeEnd, StepTypeStop:
		return true
	default:
		return false
	}
}

// WorkflowStep is one unit of action within a workflow. StepConfig is the raw
// JSON object stored with the step; use ParseStepConfig for a typed view.
type WorkflowStep struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	StepNumber int             `json:"step_number"`
	StepType   StepType        `json:"step_type"`
	StepConfig json.RawMessage `json:"step_config,omitempty"`
}

// Config parses the step's configuration into its typed variant.
func (s WorkflowStep) Config() (StepConfig, error) {
	return ParseStepConfig(s.StepType, s.StepConfig)
}

// WorkflowDefinition is an ordered collection of steps.
type WorkflowDefinition struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Name      string         `json:"name"`
	Enabled   bool           `json:"enabled"`
	Steps     []WorkflowStep `json:"steps"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SortSteps orders Steps by ascending step_number.
func (d *WorkflowDefinition) SortSteps() {
	sort.SliceStable(d.Steps, func(i, j int) bool {
		return d.Steps[i].StepNumber < d.Steps[j].StepNumber
	})
}

// FirstStep returns the step with the lowest step_number, or nil when the
// definition has no steps.
func (d *WorkflowDefinition) FirstStep() *WorkflowStep {
	var first *WorkflowStep
	for i := range d.Steps {
		if first == nil || d.Steps[i].StepNumber < first.StepNumber {
			first = &d.Steps[i]
		}
	}
	return first
}

// StepByID returns the step with the given id, or nil.
func (d *WorkflowDefinition) StepByID(id string) *WorkflowStep {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// StepByNumber returns the step with the given step_number, or nil.
func (d *WorkflowDefinition) StepByNumber(n int) *WorkflowStep {
	for i := range d.Steps {
		if d.Steps[i].StepNumber == n {
			return &d.Steps[i]
		}
	}
	return nil
}
