package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidTimeOfDay is returned when a wait step's time_of_day is not HH:MM.
var ErrInvalidTimeOfDay = errors.New("time_of_day must be in HH:MM format")

// StepConfig is the typed configuration of a single step. Each step type has
// exactly one variant.
type StepConfig interface {
	// Kind returns the step type the configuration belongs to.
	Kind() StepType
	// Validate returns every shape problem with the configuration.
	Validate() []string
}

// CallConfig configures a call step.
type CallConfig struct {
	AgentID         string `json:"agent_id,omitempty"`
	FromNumber      string `json:"from_number,omitempty"`
	SkipIfContacted bool   `json:"skip_if_contacted,omitempty"`
}

func (CallConfig) Kind() StepType     { return StepTypeCall }
func (CallConfig) Validate() []string { return nil }

// SMSConfig configures a templated sms step.
type SMSConfig struct {
	Content    string `json:"sms_content"`
	FromNumber string `json:"from_number,omitempty"`
}

func (SMSConfig) Kind() StepType { return StepTypeSMS }

func (c SMSConfig) Validate() []string {
	if strings.TrimSpace(c.Content) == "" {
		return []string{"sms_content is required"}
	}
	return nil
}

// AISMSConfig configures an AI-generated sms step.
type AISMSConfig struct {
	Prompt     string            `json:"ai_prompt,omitempty"`
	FromNumber string            `json:"from_number,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
}

func (AISMSConfig) Kind() StepType     { return StepTypeAISMS }
func (AISMSConfig) Validate() []string { return nil }

// MaxWaitDelay caps the combined delay of a wait step.
const MaxWaitDelay = 366 * 24 * time.Hour

// WaitConfig configures a wait step. Pointers distinguish "not configured"
// from an explicit zero delay.
type WaitConfig struct {
	DelayMinutes *float64 `json:"delay_minutes,omitempty"`
	DelayHours   *float64 `json:"delay_hours,omitempty"`
	DelayDays    *float64 `json:"delay_days,omitempty"`
	TimeOfDay    string   `json:"time_of_day,omitempty"`
}

func (WaitConfig) Kind() StepType { return StepTypeWait }

func (c WaitConfig) Validate() []string {
	var problems []string
	for name, v := range map[string]*float64{"delay_minutes": c.DelayMinutes, "delay_hours": c.DelayHours, "delay_days": c.DelayDays} {
		if v != nil && *v < 0 {
			problems = append(problems, name+" must not be negative")
		}
	}
	if c.rawDelay() > float64(MaxWaitDelay) {
		problems = append(problems, "combined delay must not exceed 366 days")
	}
	if c.TimeOfDay != "" {
		if _, _, err := c.Clock(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	return problems
}

// IsConfigured reports whether any delay or a time of day is set.
func (c WaitConfig) IsConfigured() bool {
	return c.DelayMinutes != nil || c.DelayHours != nil || c.DelayDays != nil || strings.TrimSpace(c.TimeOfDay) != ""
}

// Delay returns the combined minutes, hours and days as a duration, capped
// at MaxWaitDelay.
func (c WaitConfig) Delay() time.Duration {
	total := c.rawDelay()
	if total > float64(MaxWaitDelay) {
		return MaxWaitDelay
	}
	return time.Duration(total)
}

func (c WaitConfig) rawDelay() float64 {
	var total float64
	if c.DelayMinutes != nil {
		total += *c.DelayMinutes * float64(time.Minute)
	}
	if c.DelayHours != nil {
		total += *c.DelayHours * float64(time.Hour)
	}
	if c.DelayDays != nil {
		total += *c.DelayDays * float64(24*time.Hour)
	}
	return total
}

// Clock parses TimeOfDay into hour and minute.
func (c WaitConfig) Clock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.TimeOfDay))
	if err != nil {
		return 0, 0, ErrInvalidTimeOfDay
	}
	return t.Hour(), t.Minute(), nil
}

// WebhookConfig configures a webhook step.
type WebhookConfig struct {
	URL        string            `json:"webhook_url"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	CustomData map[string]any    `json:"custom_data,omitempty"`
}

func (WebhookConfig) Kind() StepType { return StepTypeWebhook }

func (c WebhookConfig) Validate() []string {
	if c.URL == "" {
		return []string{"webhook_url is required"}
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []string{fmt.Sprintf("webhook_url %q is not an absolute http(s) URL", c.URL)}
	}
	return nil
}

// HTTPMethod returns the configured method, defaulting to POST.
func (c WebhookConfig) HTTPMethod() string {
	if c.Method == "" {
		return "POST"
	}
	return strings.ToUpper(c.Method)
}

// TagConfig configures tag and update_status steps. LeadStatus is accepted as
// an alias of Status.
type TagConfig struct {
	Tags       []string `json:"tags,omitempty"`
	Status     string   `json:"status,omitempty"`
	LeadStatus string   `json:"lead_status,omitempty"`
	kind       StepType
}

// NewStatus returns the status to set on the lead, or "" to leave it.
func (c TagConfig) NewStatus() string {
	if s := strings.TrimSpace(c.Status); s != "" {
		return s
	}
	return strings.TrimSpace(c.LeadStatus)
}

func (c TagConfig) Kind() StepType {
	if c.kind == "" {
		return StepTypeTag
	}
	return c.kind
}

func (c TagConfig) Validate() []string {
	if len(c.Tags) == 0 && c.NewStatus() == "" {
		return []string{"at least one of tags or status is required"}
	}
	return nil
}

// ConditionConfig configures condition and branch steps. The expression is
// evaluated and recorded but does not change the flow.
type ConditionConfig struct {
	Expression string `json:"expression,omitempty"`
	kind       StepType
}

func (c ConditionConfig) Kind() StepType {
	if c.kind == "" {
		return StepTypeCondition
	}
	return c.kind
}

func (ConditionConfig) Validate() []string { return nil }

// EndConfig configures end and stop steps.
type EndConfig struct {
	kind StepType
}

func (c EndConfig) Kind() StepType {
	if c.kind == "" {
		return StepTypeEnd
	}
	return c.kind
}

func (EndConfig) Validate() []string { return nil }

// UnknownConfig holds the raw configuration of an unrecognized step type.
type UnknownConfig struct {
	Type StepType
	Raw  json.RawMessage
}

func (c UnknownConfig) Kind() StepType     { return c.Type }
func (UnknownConfig) Validate() []string { return nil }

// ParseStepConfig decodes raw into the variant for stepType. An empty or null
// raw value decodes to the zero variant.
func ParseStepConfig(stepType StepType, raw json.RawMessage) (StepConfig, error) {
	decode := func(v any) error {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return nil
		}
		if err := json.Unmarshal(trimmed, v); err != nil {
			return fmt.Errorf("invalid %s step_config: %w", stepType, err)
		}
		return nil
	}

	switch stepType {
	case StepTypeCall:
		var c CallConfig
		err := decode(&c)
		return c, err
	case StepTypeSMS:
		var c SMSConfig
		err := decode(&c)
		return c, err
	case StepTypeAISMS:
		var c AISMSConfig
		err := decode(&c)
		return c, err
	case StepTypeWait:
		var c WaitConfig
		err := decode(&c)
		return c, err
	case StepTypeWebhook:
		var c WebhookConfig
		err := decode(&c)
		return c, err
	case StepTypeTag, StepTypeUpdateStatus:
		c := TagConfig{kind: stepType}
		err := decode(&c)
		return c, err
	case StepTypeCondition, StepTypeBranch:
		c := ConditionConfig{kind: stepType}
		err := decode(&c)
		return c, err
	case StepTypeEnd, StepTypeStop:
		return EndConfig{kind: stepType}, nil
	default:
		return UnknownConfig{Type: stepType, Raw: raw}, nil
	}
}
