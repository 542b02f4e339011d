package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twilio"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

var (
	// ErrNoFromNumber is returned when no outbound number can be resolved.
	ErrNoFromNumber = errors.New("no outbound phone number available")
	// ErrNoAgent is returned when a call step has no agent.
	ErrNoAgent = errors.New("no AI agent configured")
	// ErrCollaboratorMissing is returned when a step's delivery service is not configured.
	ErrCollaboratorMissing = errors.New("delivery service not configured")
	// ErrNoLeadPhone is returned when the lead has no dialable number.
	ErrNoLeadPhone = errors.New("lead has no dialable phone number")
)

// stepContext carries everything a step handler may read.
type stepContext struct {
	progress *models.LeadWorkflowProgress
	lead     *models.Lead
	workflow *models.WorkflowDefinition
	step     *models.WorkflowStep
	campaign *models.Campaign
	now      time.Time
}

// outcome is what a handler reports besides an error.
type outcome struct {
	skipped  bool
	reason   string
	details  map[string]any
	terminal bool
}

// executeStep runs the current step and reports its result. terminal is true
// for end and stop steps. The lead's nudge counter is touched whatever happens.
func (e *Engine) executeStep(ctx context.Context, sc *stepContext) (models.StepResult, bool) {
	res := models.StepResult{
		ProgressID: sc.progress.ID,
		LeadID:     sc.lead.ID,
		WorkflowID: sc.workflow.ID,
		StepID:     sc.step.ID,
		StepNumber: sc.step.StepNumber,
		StepType:   sc.step.StepType,
	}
	defer func() {
		if err := e.store.TouchNudge(sc.lead.ID, sc.now); err != nil {
			slog.Error("Engine.executeStep: nudge update failed", "leadID", sc.lead.ID, "error", err)
		}
	}()

	out, err := e.dispatch(ctx, sc)
	res.Details = out.details
	switch {
	case err != nil:
		res.Error = err.Error()
		slog.Warn("Engine.executeStep: step failed", "progressID", sc.progress.ID, "stepType", sc.step.StepType, "stepNumber", sc.step.StepNumber, "error", err)
	case out.skipped:
		res.Success = true
		res.Skipped = true
		res.Reason = out.reason
		slog.Info("Engine.executeStep: step skipped", "progressID", sc.progress.ID, "stepType", sc.step.StepType, "reason", out.reason)
	default:
		res.Success = true
		slog.Debug("Engine.executeStep: step succeeded", "progressID", sc.progress.ID, "stepType", sc.step.StepType, "stepNumber", sc.step.StepNumber)
	}
	return res, out.terminal
}

func (e *Engine) dispatch(ctx context.Context, sc *stepContext) (outcome, error) {
	cfg, err := sc.step.Config()
	if err != nil {
		return outcome{}, err
	}
	switch c := cfg.(type) {
	case models.CallConfig:
		return e.runCall(ctx, sc, c)
	case models.SMSConfig:
		return e.runSMS(ctx, sc, c)
	case models.AISMSConfig:
		return e.runAISMS(ctx, sc, c)
	case models.WaitConfig:
		return outcome{}, nil
	case models.WebhookConfig:
		return e.runWebhook(ctx, sc, c)
	case models.TagConfig:
		return e.runTag(sc, c)
	case models.ConditionConfig:
		return e.runCondition(sc, c), nil
	case models.EndConfig:
		return outcome{terminal: true}, nil
	default:
		slog.Warn("Engine.dispatch: unknown step type", "stepType", sc.step.StepType, "stepID", sc.step.ID)
		return outcome{skipped: true, reason: fmt.Sprintf("unknown step type %q", sc.step.StepType)}, nil
	}
}

func (e *Engine) runCall(ctx context.Context, sc *stepContext, c models.CallConfig) (outcome, error) {
	pending, err := e.store.HasPendingCall(sc.lead.ID, sc.now.Add(-pendingCallWindow))
	if err != nil {
		return outcome{}, fmt.Errorf("check pending calls: %w", err)
	}
	if pending {
		return outcome{skipped: true, reason: "call already pending"}, nil
	}
	if c.SkipIfContacted {
		contacted, err := e.store.HasSuccessfulContact(sc.lead.ID)
		if err != nil {
			return outcome{}, fmt.Errorf("check prior contact: %w", err)
		}
		if contacted {
			return outcome{skipped: true, reason: "lead already contacted"}, nil
		}
	}
	if sc.lead.DoNotCall {
		return outcome{skipped: true, reason: "lead is on the do-not-call list"}, nil
	}

	agentID := strings.TrimSpace(c.AgentID)
	if agentID == "" && sc.campaign != nil {
		agentID = sc.campaign.AgentID
	}
	if agentID == "" {
		return outcome{}, ErrNoAgent
	}
	from, err := e.resolveFromNumber(sc, c.FromNumber)
	if err != nil {
		return outcome{}, err
	}
	if e.caller == nil {
		return outcome{}, fmt.Errorf("call: %w", ErrCollaboratorMissing)
	}
	to := util.ToE164(sc.lead.PhoneNumber)
	if to == "" {
		return outcome{}, ErrNoLeadPhone
	}
	from = util.ToE164(from)

	entry := models.CallLog{
		ID:         util.GenerateID(),
		LeadID:     sc.lead.ID,
		UserID:     sc.progress.UserID,
		CampaignID: sc.progress.CampaignID,
		AgentID:    agentID,
		FromNumber: from,
		ToNumber:   to,
		Status:     models.CallQueued,
		CreatedAt:  sc.now,
	}
	result, callErr := e.caller.PlaceCall(ctx, twilio.CallRequest{From: from, To: to, AgentID: agentID, LeadID: sc.lead.ID})
	if callErr != nil {
		entry.Status = models.CallFailed
	} else {
		entry.ProviderCallID = result.SID
		if status := models.CallStatus(strings.ReplaceAll(result.Status, "-", "_")); status != "" {
			entry.Status = status
		}
	}
	if err := e.store.RecordCall(entry); err != nil {
		slog.Error("Engine.runCall: record call failed", "leadID", sc.lead.ID, "error", err)
	}
	if callErr != nil {
		return outcome{}, fmt.Errorf("place call: %w", callErr)
	}
	return outcome{details: map[string]any{"call_sid": result.SID, "agent_id": agentID, "from": from}}, nil
}

func (e *Engine) runSMS(ctx context.Context, sc *stepContext, c models.SMSConfig) (outcome, error) {
	from, err := e.resolveFromNumber(sc, c.FromNumber)
	if err != nil {
		return outcome{}, err
	}
	body, err := RenderTemplate(c.Content, *sc.lead)
	if err != nil {
		return outcome{}, err
	}
	if e.sms == nil {
		return outcome{}, fmt.Errorf("sms: %w", ErrCollaboratorMissing)
	}
	id, err := e.sms.SendSMS(ctx, from, sc.lead.PhoneNumber, body)
	if err != nil {
		return outcome{}, fmt.Errorf("send sms: %w", err)
	}
	return outcome{details: map[string]any{"message_id": id, "from": from}}, nil
}

func (e *Engine) runAISMS(ctx context.Context, sc *stepContext, c models.AISMSConfig) (outcome, error) {
	from, err := e.resolveFromNumber(sc, c.FromNumber)
	if err != nil {
		return outcome{}, err
	}
	if e.ai == nil {
		return outcome{}, fmt.Errorf("ai_sms: %w", ErrCollaboratorMissing)
	}
	extra := make(map[string]string, len(c.Context)+2)
	for k, v := range c.Context {
		extra[k] = v
	}
	extra["workflow_name"] = sc.workflow.Name
	extra["step_number"] = fmt.Sprint(sc.step.StepNumber)

	res, err := e.ai.SendAIMessage(ctx, messaging.AIRequest{
		From:       from,
		Prompt:     c.Prompt,
		Lead:       *sc.lead,
		WorkflowID: sc.workflow.ID,
		StepID:     sc.step.ID,
		Context:    extra,
	})
	if err != nil {
		return outcome{}, fmt.Errorf("send ai sms: %w", err)
	}
	return outcome{details: map[string]any{"message_id": res.MessageID, "from": from, "body": res.Body}}, nil
}

// webhookPayload is the body sent by webhook steps.
type webhookPayload struct {
	LeadID      string         `json:"lead_id"`
	LeadName    string         `json:"lead_name"`
	PhoneNumber string         `json:"phone_number"`
	Email       string         `json:"email,omitempty"`
	WorkflowID  string         `json:"workflow_id"`
	CampaignID  string         `json:"campaign_id,omitempty"`
	StepID      string         `json:"step_id"`
	StepNumber  int            `json:"step_number"`
	Timestamp   time.Time      `json:"timestamp"`
	CustomData  map[string]any `json:"custom_data,omitempty"`
}

func (e *Engine) runWebhook(ctx context.Context, sc *stepContext, c models.WebhookConfig) (outcome, error) {
	if problems := c.Validate(); len(problems) > 0 {
		return outcome{}, errors.New(problems[0])
	}
	payload, err := json.Marshal(webhookPayload{
		LeadID:      sc.lead.ID,
		LeadName:    sc.lead.FullName(),
		PhoneNumber: sc.lead.PhoneNumber,
		Email:       sc.lead.Email,
		WorkflowID:  sc.workflow.ID,
		CampaignID:  sc.progress.CampaignID,
		StepID:      sc.step.ID,
		StepNumber:  sc.step.StepNumber,
		Timestamp:   sc.now,
		CustomData:  c.CustomData,
	})
	if err != nil {
		return outcome{}, fmt.Errorf("marshal webhook payload: %w", err)
	}

	method := c.HTTPMethod()
	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL, body)
	if err != nil {
		return outcome{}, fmt.Errorf("build webhook request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return outcome{}, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	details := map[string]any{"status_code": resp.StatusCode}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return outcome{details: details}, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return outcome{details: details}, nil
}

func (e *Engine) runTag(sc *stepContext, c models.TagConfig) (outcome, error) {
	patch := models.LeadPatch{AddTags: c.Tags}
	if status := c.NewStatus(); status != "" {
		patch.Status = &status
	}
	if err := e.store.PatchLead(sc.lead.ID, patch); err != nil {
		return outcome{}, fmt.Errorf("patch lead: %w", err)
	}
	details := map[string]any{}
	if len(c.Tags) > 0 {
		details["tags"] = c.Tags
	}
	if patch.Status != nil {
		details["status"] = *patch.Status
	}
	return outcome{details: details}, nil
}

// runCondition records the expression's value. Flow is never altered.
func (e *Engine) runCondition(sc *stepContext, c models.ConditionConfig) outcome {
	expression := strings.TrimSpace(c.Expression)
	if expression == "" {
		return outcome{details: map[string]any{"evaluated": false}}
	}
	result, err := e.conditions.Evaluate(expression, *sc.lead)
	if err != nil {
		slog.Warn("Engine.runCondition: evaluation failed", "stepID", sc.step.ID, "error", err)
		return outcome{details: map[string]any{"evaluated": false, "expression": expression, "error": err.Error()}}
	}
	return outcome{details: map[string]any{"evaluated": true, "expression": expression, "result": result}}
}

// resolveFromNumber picks the outbound number: step override, then the
// campaign pool, then the user's first active number.
func (e *Engine) resolveFromNumber(sc *stepContext, override string) (string, error) {
	if n := strings.TrimSpace(override); n != "" {
		return n, nil
	}
	if n := sc.campaign.PooledNumber(); n != "" {
		return n, nil
	}
	n, err := e.store.FirstActiveNumber(sc.progress.UserID)
	if err != nil {
		return "", fmt.Errorf("look up outbound number: %w", err)
	}
	if n == "" {
		return "", ErrNoFromNumber
	}
	return n, nil
}
