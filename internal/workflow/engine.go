// Package workflow runs lead workflows: enrollment, the scheduler pass that
// executes due steps, the per-type step executor and the step advancer.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twilio"
)

// Engine defaults.
const (
	DefaultBatchSize      = 100
	DefaultClaimLease     = 5 * time.Minute
	DefaultWebhookTimeout = 30 * time.Second
	// MaxStepsPerPass bounds how many due steps one row may run in a single pass.
	MaxStepsPerPass = 25
	// pendingCallWindow is how far back an unfinished call blocks a new one.
	pendingCallWindow = 5 * time.Minute
)

// Caller places outbound calls.
type Caller interface {
	PlaceCall(ctx context.Context, req twilio.CallRequest) (twilio.CallResult, error)
}

// SMSSender sends a text message and returns the provider message id.
type SMSSender interface {
	SendSMS(ctx context.Context, from, to, body string) (string, error)
}

// AIMessenger generates and sends an AI-written text message.
type AIMessenger interface {
	SendAIMessage(ctx context.Context, req messaging.AIRequest) (messaging.AIResult, error)
}

// Opts holds configuration for the Engine.
type Opts struct {
	Caller     Caller
	SMS        SMSSender
	AI         AIMessenger
	HTTPClient *http.Client
	Clock      func() time.Time
	Location   *time.Location
	BatchSize  int
	ClaimLease time.Duration
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithCaller sets the call placement collaborator.
func WithCaller(c Caller) Option {
	return func(o *Opts) { o.Caller = c }
}

// WithSMSSender sets the SMS collaborator.
func WithSMSSender(s SMSSender) Option {
	return func(o *Opts) { o.SMS = s }
}

// WithAIMessenger sets the AI message collaborator.
func WithAIMessenger(a AIMessenger) Option {
	return func(o *Opts) { o.AI = a }
}

// WithHTTPClient sets the client used by webhook steps.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// WithLocation sets the zone used to interpret wait steps' time_of_day.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithBatchSize sets how many due rows one pass claims.
func WithBatchSize(n int) Option {
	return func(o *Opts) { o.BatchSize = n }
}

// WithClaimLease sets how long a claimed row stays invisible to other passes.
func WithClaimLease(d time.Duration) Option {
	return func(o *Opts) { o.ClaimLease = d }
}

// Engine executes workflows against a store.
type Engine struct {
	store      store.Store
	caller     Caller
	sms        SMSSender
	ai         AIMessenger
	httpClient *http.Client
	now        func() time.Time
	loc        *time.Location
	batchSize  int
	lease      time.Duration
	conditions *conditionEvaluator
}

// NewEngine creates an Engine. Collaborators left unset make their step types
// fail with a descriptive error.
func NewEngine(st store.Store, opts ...Option) *Engine {
	cfg := Opts{
		Clock:      time.Now,
		Location:   time.UTC,
		BatchSize:  DefaultBatchSize,
		ClaimLease: DefaultClaimLease,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = DefaultClaimLease
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Engine{
		store:      st,
		caller:     cfg.Caller,
		sms:        cfg.SMS,
		ai:         cfg.AI,
		httpClient: cfg.HTTPClient,
		now:        cfg.Clock,
		loc:        cfg.Location,
		batchSize:  cfg.BatchSize,
		lease:      cfg.ClaimLease,
		conditions: newConditionEvaluator(),
	}
}

// Capabilities lists the actions and step types the engine supports.
func Capabilities() []string {
	return []string{
		models.ActionStartWorkflow,
		models.ActionExecutePending,
		models.ActionRemoveFromWorkflow,
		models.ActionPauseWorkflow,
		models.ActionResumeWorkflow,
		models.ActionGetProgress,
		"step:" + string(models.StepTypeCall),
		"step:" + string(models.StepTypeSMS),
		"step:" + string(models.StepTypeAISMS),
		"step:" + string(models.StepTypeWait),
		"step:" + string(models.StepTypeWebhook),
		"step:" + string(models.StepTypeTag),
		"step:" + string(models.StepTypeUpdateStatus),
		"step:" + string(models.StepTypeCondition),
		"step:" + string(models.StepTypeBranch),
		"step:" + string(models.StepTypeEnd),
		"step:" + string(models.StepTypeStop),
	}
}

// ExecutePending runs one scheduler pass: it claims due rows and executes
// each one's current step, chaining further steps that are already due.
// Step failures are reported in the summary, never returned.
func (e *Engine) ExecutePending(ctx context.Context) (*models.ExecutionSummary, error) {
	now := e.now().UTC()
	rows, err := e.store.ClaimDueProgress(now, e.batchSize, now.Add(e.lease))
	if err != nil {
		slog.Error("Engine.ExecutePending: claim failed", "error", err)
		return nil, fmt.Errorf("claim due progress: %w", err)
	}
	slog.Debug("Engine.ExecutePending: claimed rows", "count", len(rows))

	summary := &models.ExecutionSummary{}
	workflows := make(map[string]*models.WorkflowDefinition)
	for i := range rows {
		if err := ctx.Err(); err != nil {
			for _, rest := range rows[i:] {
				e.release(rest.ID)
			}
			slog.Warn("Engine.ExecutePending: pass cancelled", "processed", summary.Processed, "released", len(rows)-i)
			return summary, err
		}
		summary.Processed++
		e.processRow(ctx, rows[i], workflows, summary)
	}
	slog.Info("Engine.ExecutePending: pass finished",
		"processed", summary.Processed, "succeeded", summary.Succeeded, "failed", summary.Failed,
		"skipped", summary.Skipped, "paused", summary.Paused, "completed", summary.Completed)
	return summary, nil
}

func (e *Engine) processRow(ctx context.Context, p models.LeadWorkflowProgress, workflows map[string]*models.WorkflowDefinition, summary *models.ExecutionSummary) {
	base := models.StepResult{ProgressID: p.ID, LeadID: p.LeadID, WorkflowID: p.WorkflowID}
	fail := func(err error) {
		e.release(p.ID)
		r := base
		r.Error = err.Error()
		summary.Record(r)
	}

	lead, err := e.store.GetLead(p.LeadID)
	if err != nil {
		fail(fmt.Errorf("load lead: %w", err))
		return
	}
	if lead == nil {
		e.finish(&p, "lead not found", summary)
		return
	}
	if lead.SequencePaused {
		e.release(p.ID)
		r := base
		r.Skipped = true
		r.Reason = "lead sequence paused"
		summary.Record(r)
		return
	}

	def, ok := workflows[p.WorkflowID]
	if !ok {
		def, err = e.store.GetWorkflow(p.WorkflowID)
		if err != nil {
			fail(fmt.Errorf("load workflow: %w", err))
			return
		}
		workflows[p.WorkflowID] = def
	}
	if def == nil {
		e.finish(&p, "workflow not found", summary)
		return
	}

	var campaign *models.Campaign
	if p.CampaignID != "" {
		campaign, err = e.store.GetCampaign(p.CampaignID)
		if err != nil {
			fail(fmt.Errorf("load campaign: %w", err))
			return
		}
		if campaign == nil || !campaign.Active || campaign.WorkflowID != p.WorkflowID {
			p.Status = models.ProgressPaused
			if err := e.store.SaveProgress(p); err != nil {
				slog.Error("Engine.processRow: pause on campaign drift failed", "progressID", p.ID, "error", err)
				e.releaseUnlessLost(p.ID, err)
				return
			}
			slog.Info("Engine.processRow: campaign inactive or reassigned, enrollment paused", "progressID", p.ID, "campaignID", p.CampaignID)
			summary.Paused++
			return
		}
	}

	for executed := 0; executed < MaxStepsPerPass; executed++ {
		step := def.StepByID(p.CurrentStepID)
		if step == nil {
			e.finish(&p, "current step not found", summary)
			return
		}
		now := e.now().UTC()
		res, terminal := e.executeStep(ctx, &stepContext{progress: &p, lead: lead, workflow: def, step: step, campaign: campaign, now: now})
		summary.Record(res)

		p.LastActionAt = &now
		if terminal {
			p.Complete(now, "")
		} else {
			advance(&p, def, step, now, e.loc)
		}
		if p.Status != models.ProgressActive || !p.IsDue(e.now().UTC()) {
			break
		}
		// Re-read the lead so later steps in the chain see tag and status changes.
		if fresh, err := e.store.GetLead(p.LeadID); err == nil && fresh != nil {
			lead = fresh
		}
		if lead.SequencePaused {
			break
		}
	}

	if err := e.store.SaveProgress(p); err != nil {
		slog.Warn("Engine.processRow: progress not saved", "progressID", p.ID, "error", err)
		e.releaseUnlessLost(p.ID, err)
		return
	}
	if p.Status == models.ProgressCompleted {
		summary.Completed++
	}
}

// finish completes a row that can no longer run.
func (e *Engine) finish(p *models.LeadWorkflowProgress, reason string, summary *models.ExecutionSummary) {
	slog.Warn("Engine.finish: completing enrollment", "progressID", p.ID, "leadID", p.LeadID, "reason", reason)
	p.Complete(e.now().UTC(), reason)
	if err := e.store.SaveProgress(*p); err != nil {
		slog.Error("Engine.finish: save failed", "progressID", p.ID, "error", err)
		e.releaseUnlessLost(p.ID, err)
		return
	}
	summary.Completed++
}

// releaseUnlessLost frees the row after a failed save. A lost claim belongs
// to another pass and is left alone.
func (e *Engine) releaseUnlessLost(id string, err error) {
	if errors.Is(err, store.ErrClaimLost) {
		return
	}
	e.release(id)
}

func (e *Engine) release(id string) {
	if err := e.store.ReleaseClaim(id); err != nil {
		slog.Error("Engine.release: release claim failed", "progressID", id, "error", err)
	}
}
