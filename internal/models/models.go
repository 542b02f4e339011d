// Package models defines the core data structures for LeadPipe.
//
// It includes leads, workflow definitions and their steps, enrollment progress
// rows, and the JSON envelope returned by the workflow executor API.
package models

import "errors"

// Error variables for better error handling and testability
var (
	ErrMissingLeadID     = errors.New("leadId is required")
	ErrMissingWorkflowID = errors.New("workflowId is required")
	ErrMissingUserID     = errors.New("userId is required")
	ErrUnknownAction     = errors.New("unknown action")
)

// Action names accepted by the workflow executor endpoint.
const (
	ActionHealthCheck        = "health_check"
	ActionStartWorkflow      = "start_workflow"
	ActionExecutePending     = "execute_pending"
	ActionRemoveFromWorkflow = "remove_from_workflow"
	ActionPauseWorkflow      = "pause_workflow"
	ActionResumeWorkflow     = "resume_workflow"
	ActionGetProgress        = "get_progress"
)

// Outcome markers reported in EngineResponse.Action.
const (
	OutcomeEnrolled               = "enrolled"
	OutcomeAlreadyEnrolled        = "already_enrolled"
	OutcomeDuplicatePhoneEnrolled = "duplicate_phone_enrolled"
	OutcomeValidationFailed       = "validation_failed"
)

// EngineRequest is the JSON body accepted by the workflow executor endpoint.
// Only the fields relevant to the chosen action need to be set.
type EngineRequest struct {
	Action     string `json:"action"`
	UserID     string `json:"userId,omitempty"`
	LeadID     string `json:"leadId,omitempty"`
	WorkflowID string `json:"workflowId,omitempty"`
	CampaignID string `json:"campaignId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Validate checks that the fields required by the request's action are present.
func (r *EngineRequest) Validate() error {
	switch r.Action {
	case ActionHealthCheck, ActionExecutePending:
		return nil
	case ActionStartWorkflow:
		if r.UserID == "" {
			return ErrMissingUserID
		}
		if r.LeadID == "" {
			return ErrMissingLeadID
		}
		if r.WorkflowID == "" {
			return ErrMissingWorkflowID
		}
		return nil
	case ActionRemoveFromWorkflow, ActionGetProgress:
		if r.LeadID == "" {
			return ErrMissingLeadID
		}
		return nil
	case ActionPauseWorkflow, ActionResumeWorkflow:
		if r.LeadID == "" {
			return ErrMissingLeadID
		}
		if r.WorkflowID == "" {
			return ErrMissingWorkflowID
		}
		return nil
	default:
		return ErrUnknownAction
	}
}

// EngineResponse is the JSON envelope returned by every workflow executor action.
// Success is always present; the remaining fields are set per action.
type EngineResponse struct {
	Success          bool                   `json:"success"`
	Error            string                 `json:"error,omitempty"`
	Message          string                 `json:"message,omitempty"`
	Action           string                 `json:"action,omitempty"`
	ProgressID       string                 `json:"progressId,omitempty"`
	ValidationErrors []string               `json:"validationErrors,omitempty"`
	Capabilities     []string               `json:"capabilities,omitempty"`
	Summary          *ExecutionSummary      `json:"summary,omitempty"`
	Affected         *int                   `json:"affected,omitempty"`
	Progress         []LeadWorkflowProgress `json:"progress,omitempty"`
}

// EngineResponseBuilder provides a fluent interface for building engine responses.
type EngineResponseBuilder struct {
	response EngineResponse
}

// NewEngineResponseBuilder creates a new EngineResponseBuilder instance.
func NewEngineResponseBuilder() *EngineResponseBuilder {
	return &EngineResponseBuilder{}
}

// WithSuccess sets the success flag.
func (b *EngineResponseBuilder) WithSuccess(success bool) *EngineResponseBuilder {
	b.response.Success = success
	return b
}

// WithError sets the error message and clears the success flag.
func (b *EngineResponseBuilder) WithError(message string) *EngineResponseBuilder {
	b.response.Success = false
	b.response.Error = message
	return b
}

// WithMessage sets the human-readable message.
func (b *EngineResponseBuilder) WithMessage(message string) *EngineResponseBuilder {
	b.response.Message = message
	return b
}

// WithAction sets the outcome marker.
func (b *EngineResponseBuilder) WithAction(action string) *EngineResponseBuilder {
	b.response.Action = action
	return b
}

// WithProgressID sets the enrollment row id.
func (b *EngineResponseBuilder) WithProgressID(id string) *EngineResponseBuilder {
	b.response.ProgressID = id
	return b
}

// WithValidationErrors sets the list of validation failures.
func (b *EngineResponseBuilder) WithValidationErrors(errs []string) *EngineResponseBuilder {
	b.response.ValidationErrors = errs
	return b
}

// WithCapabilities sets the capability list reported by health_check.
func (b *EngineResponseBuilder) WithCapabilities(caps []string) *EngineResponseBuilder {
	b.response.Capabilities = caps
	return b
}

// WithSummary attaches the result of a scheduler pass.
func (b *EngineResponseBuilder) WithSummary(summary *ExecutionSummary) *EngineResponseBuilder {
	b.response.Summary = summary
	return b
}

// WithAffected sets the number of rows touched by a control action.
func (b *EngineResponseBuilder) WithAffected(n int) *EngineResponseBuilder {
	b.response.Affected = &n
	return b
}

// WithProgress attaches enrollment rows.
func (b *EngineResponseBuilder) WithProgress(rows []LeadWorkflowProgress) *EngineResponseBuilder {
	b.response.Progress = rows
	return b
}

// Build constructs and returns the final EngineResponse.
func (b *EngineResponseBuilder) Build() EngineResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful response with a message.
func Success(message string) EngineResponse {
	return NewEngineResponseBuilder().
		WithSuccess(true).
		WithMessage(message).
		Build()
}

// Error creates an error response.
func Error(message string) EngineResponse {
	return NewEngineResponseBuilder().
		WithError(message).
		Build()
}
