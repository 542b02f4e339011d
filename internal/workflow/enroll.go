package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// EnrollRequest identifies the enrollment to create.
type EnrollRequest struct {
	UserID     string
	LeadID     string
	WorkflowID string
	CampaignID string
}

// EnrollResult reports the outcome of StartWorkflow. Outcome is one of the
// models.Outcome* markers.
type EnrollResult struct {
	Outcome          string
	ProgressID       string
	ValidationErrors []string
}

// Enrolled reports whether a row exists for the request after the call.
func (r EnrollResult) Enrolled() bool {
	return r.Outcome == models.OutcomeEnrolled || r.Outcome == models.OutcomeAlreadyEnrolled
}

// StartWorkflow enrolls a lead in a workflow. Duplicate enrollments are
// reported as outcomes; validation problems are collected and returned
// together without creating a row. The error is reserved for storage failures.
func (e *Engine) StartWorkflow(ctx context.Context, req EnrollRequest) (EnrollResult, error) {
	existing, err := e.store.GetOpenProgress(req.LeadID, req.WorkflowID)
	if err != nil {
		return EnrollResult{}, fmt.Errorf("check existing enrollment: %w", err)
	}
	if existing != nil {
		slog.Info("Engine.StartWorkflow: lead already enrolled", "leadID", req.LeadID, "workflowID", req.WorkflowID, "progressID", existing.ID)
		return EnrollResult{Outcome: models.OutcomeAlreadyEnrolled, ProgressID: existing.ID}, nil
	}

	lead, err := e.store.GetLead(req.LeadID)
	if err != nil {
		return EnrollResult{}, fmt.Errorf("load lead: %w", err)
	}
	if lead != nil && strings.TrimSpace(lead.PhoneNumber) != "" {
		dup, err := e.findPhoneDuplicate(lead, req.WorkflowID)
		if err != nil {
			return EnrollResult{}, err
		}
		if dup != nil {
			slog.Info("Engine.StartWorkflow: phone already enrolled", "leadID", req.LeadID, "otherLeadID", dup.LeadID, "workflowID", req.WorkflowID)
			return EnrollResult{Outcome: models.OutcomeDuplicatePhoneEnrolled, ProgressID: dup.ProgressID}, nil
		}
	}

	def, err := e.store.GetWorkflow(req.WorkflowID)
	if err != nil {
		return EnrollResult{}, fmt.Errorf("load workflow: %w", err)
	}
	var campaign *models.Campaign
	if req.CampaignID != "" {
		if campaign, err = e.store.GetCampaign(req.CampaignID); err != nil {
			return EnrollResult{}, fmt.Errorf("load campaign: %w", err)
		}
	}

	if problems := validateEnrollment(lead, def, campaign, req.CampaignID); len(problems) > 0 {
		slog.Warn("Engine.StartWorkflow: validation failed", "leadID", req.LeadID, "workflowID", req.WorkflowID, "errors", len(problems))
		return EnrollResult{Outcome: models.OutcomeValidationFailed, ValidationErrors: problems}, nil
	}

	now := e.now().UTC()
	first := def.FirstStep()
	next := NextActionAt(*first, now, e.loc)
	p := models.LeadWorkflowProgress{
		ID:            util.GenerateID(),
		LeadID:        lead.ID,
		WorkflowID:    def.ID,
		CampaignID:    req.CampaignID,
		UserID:        req.UserID,
		CurrentStepID: first.ID,
		Status:        models.ProgressActive,
		NextActionAt:  &next,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreateProgressIfAbsent(p); err != nil {
		if errors.Is(err, store.ErrAlreadyEnrolled) {
			winner, lookupErr := e.store.GetOpenProgress(req.LeadID, req.WorkflowID)
			if lookupErr != nil {
				return EnrollResult{}, fmt.Errorf("load concurrent enrollment: %w", lookupErr)
			}
			result := EnrollResult{Outcome: models.OutcomeAlreadyEnrolled}
			if winner != nil {
				result.ProgressID = winner.ID
			}
			return result, nil
		}
		return EnrollResult{}, fmt.Errorf("create enrollment: %w", err)
	}
	slog.Info("Engine.StartWorkflow: lead enrolled", "leadID", lead.ID, "workflowID", def.ID, "progressID", p.ID, "nextActionAt", next)
	return EnrollResult{Outcome: models.OutcomeEnrolled, ProgressID: p.ID}, nil
}

func (e *Engine) findPhoneDuplicate(lead *models.Lead, workflowID string) (*store.OpenEnrollment, error) {
	open, err := e.store.ListOpenEnrollments(workflowID)
	if err != nil {
		return nil, fmt.Errorf("list open enrollments: %w", err)
	}
	key := util.NormalizePhone(lead.PhoneNumber)
	for i := range open {
		if open[i].LeadID == lead.ID {
			continue
		}
		if util.NormalizePhone(open[i].PhoneNumber) == key {
			return &open[i], nil
		}
	}
	return nil, nil
}

// validateEnrollment collects every problem that blocks enrollment.
func validateEnrollment(lead *models.Lead, def *models.WorkflowDefinition, campaign *models.Campaign, campaignID string) []string {
	var problems []string
	switch {
	case lead == nil:
		problems = append(problems, "Lead not found")
	default:
		if lead.DoNotCall {
			problems = append(problems, "Lead is on the do-not-call list")
		}
		if strings.TrimSpace(lead.PhoneNumber) == "" {
			problems = append(problems, "Lead has no phone number")
		}
	}
	if campaignID != "" && campaign == nil {
		problems = append(problems, "Campaign not found")
	}

	switch {
	case def == nil:
		return append(problems, "Workflow not found")
	case !def.Enabled:
		problems = append(problems, "Workflow is disabled")
	}
	if len(def.Steps) == 0 {
		return append(problems, "Workflow has no steps")
	}

	steps := append([]models.WorkflowStep(nil), def.Steps...)
	sorted := models.WorkflowDefinition{Steps: steps}
	sorted.SortSteps()
	for _, step := range sorted.Steps {
		cfg, err := step.Config()
		if err != nil {
			problems = append(problems, fmt.Sprintf("Step %d: %v", step.StepNumber, err))
			continue
		}
		switch c := cfg.(type) {
		case models.CallConfig:
			if strings.TrimSpace(c.AgentID) == "" && (campaign == nil || campaign.AgentID == "") {
				problems = append(problems, fmt.Sprintf("Step %d: No AI agent configured", step.StepNumber))
			}
		case models.SMSConfig:
			if strings.TrimSpace(c.Content) == "" {
				problems = append(problems, fmt.Sprintf("Step %d: SMS message content is empty", step.StepNumber))
			} else if err := CheckTemplate(c.Content); err != nil {
				problems = append(problems, fmt.Sprintf("Step %d: %v", step.StepNumber, err))
			}
		case models.WaitConfig:
			if !c.IsConfigured() {
				problems = append(problems, fmt.Sprintf("Step %d: Wait step has no delay or time_of_day configured", step.StepNumber))
			}
		}
	}
	return problems
}
