package workflow

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

func waitStep(config string) models.WorkflowStep {
	return models.WorkflowStep{ID: "w", StepNumber: 1, StepType: models.StepTypeWait, StepConfig: json.RawMessage(config)}
}

func TestNextActionAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		step   models.WorkflowStep
		want   time.Time
		loc    *time.Location
	}{
		{"non-wait fires now", models.WorkflowStep{StepType: models.StepTypeSMS}, now, nil},
		{"minutes", waitStep(`{"delay_minutes":30}`), now.Add(30 * time.Minute), nil},
		{"combined", waitStep(`{"delay_minutes":15,"delay_hours":2,"delay_days":1}`), now.Add(24*time.Hour + 2*time.Hour + 15*time.Minute), nil},
		{"fractional hours", waitStep(`{"delay_hours":1.5}`), now.Add(90 * time.Minute), nil},
		{"time of day passed rolls to tomorrow", waitStep(`{"time_of_day":"09:00"}`), time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), nil},
		{"time of day later today", waitStep(`{"time_of_day":"17:30"}`), time.Date(2026, 3, 10, 17, 30, 0, 0, time.UTC), nil},
		{"delay then snap", waitStep(`{"delay_days":2,"time_of_day":"09:00"}`), time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC), nil},
		{"delay lands before snap", waitStep(`{"delay_minutes":30,"time_of_day":"11:00"}`), time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC), nil},
		{"invalid time of day ignored", waitStep(`{"delay_minutes":5,"time_of_day":"9am"}`), now.Add(5 * time.Minute), nil},
		{"location", waitStep(`{"time_of_day":"09:00"}`), time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), time.FixedZone("EST", -5*3600)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextActionAt(tt.step, now, tt.loc)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestRenderTemplate(t *testing.T) {
	lead := models.Lead{FirstName: "Dana", LastName: "Scully", PhoneNumber: "+15551234567", Email: "d@x.io", Company: "FBI", City: "DC", State: "VA"}
	out, err := RenderTemplate("Hi {{first_name}} {{ LAST_NAME }} ({{Full_Name}}) {{phone}} {{email}} {{company}} {{city}}, {{state}}", lead)
	require.NoError(t, err)
	assert.Equal(t, "Hi Dana Scully (Dana Scully) +15551234567 d@x.io FBI DC, VA", out)

	out, err = RenderTemplate("Hello {{first_name}}", models.Lead{})
	require.NoError(t, err)
	assert.Equal(t, "Hello ", out)

	_, err = RenderTemplate("Hi {{nickname}} from {{ agent }}", lead)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPlaceholder))
	assert.Contains(t, err.Error(), "nickname, agent")

	out, err = RenderTemplate("no placeholders {here}", lead)
	require.NoError(t, err)
	assert.Equal(t, "no placeholders {here}", out)

	for _, tmpl := range []string{"Hi {{first-name}}", "Call {{phone2}}", "Hi {{ first name }}", "Hi {{}}"} {
		_, err = RenderTemplate(tmpl, lead)
		assert.ErrorIs(t, err, ErrUnknownPlaceholder, tmpl)
	}
	_, err = RenderTemplate("Hi {{first-name}} at {{phone2}}", lead)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first-name, phone2")
	assert.ErrorIs(t, CheckTemplate("Hi {{ first name }}"), ErrUnknownPlaceholder)
}

func TestConditionEvaluator(t *testing.T) {
	c := newConditionEvaluator()
	lead := models.Lead{Status: "new", Tags: []string{"vip"}, City: "Austin"}

	ok, err := c.Evaluate(`"vip" in tags && status == "new"`, lead)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Evaluate(`city == "Boston"`, lead)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Evaluate(`unknown_field > 3`, lead)
	assert.Error(t, err)
	_, err = c.Evaluate(`city`, lead)
	assert.Error(t, err)
}

func TestValidateDefinition(t *testing.T) {
	valid := models.WorkflowDefinition{ID: "wf", Name: "Welcome", Enabled: true, Steps: []models.WorkflowStep{
		{ID: "a", StepNumber: 1, StepType: models.StepTypeWait, StepConfig: json.RawMessage(`{"delay_hours":1}`)},
		{ID: "b", StepNumber: 2, StepType: models.StepTypeSMS, StepConfig: json.RawMessage(`{"sms_content":"Hi {{first_name}}"}`)},
		{ID: "c", StepNumber: 3, StepType: models.StepTypeWebhook, StepConfig: json.RawMessage(`{"webhook_url":"https://hooks.example.com/x","method":"put"}`)},
		{ID: "d", StepNumber: 4, StepType: models.StepTypeCondition, StepConfig: json.RawMessage(`{"expression":"\"vip\" in tags"}`)},
		{ID: "e", StepNumber: 5, StepType: models.StepTypeTag, StepConfig: json.RawMessage(`{"tags":["done"]}`)},
		{ID: "f", StepNumber: 6, StepType: models.StepType("custom"), StepConfig: json.RawMessage(`{"anything":1}`)},
		{ID: "g", StepNumber: 7, StepType: models.StepTypeEnd},
	}}
	assert.Empty(t, ValidateDefinition(valid))

	invalid := models.WorkflowDefinition{ID: "wf", Steps: []models.WorkflowStep{
		{ID: "a", StepNumber: 0, StepType: models.StepTypeWait, StepConfig: json.RawMessage(`{}`)},
		{ID: "b", StepNumber: 2, StepType: models.StepTypeSMS, StepConfig: json.RawMessage(`{"sms_content":"Hi {{nick}}"}`)},
		{ID: "c", StepNumber: 2, StepType: models.StepTypeWebhook, StepConfig: json.RawMessage(`{"webhook_url":"not a url"}`)},
		{ID: "d", StepNumber: 4, StepType: models.StepTypeCondition, StepConfig: json.RawMessage(`{"expression":"nope("}`)},
		{ID: "e", StepNumber: 5, StepType: models.StepTypeWait, StepConfig: json.RawMessage(`{"time_of_day":"25:00"}`)},
		{ID: "f", StepNumber: 6, StepType: models.StepTypeTag, StepConfig: json.RawMessage(`{}`)},
	}}
	problems := ValidateDefinition(invalid)
	joined := strings.Join(problems, "\n")
	for _, want := range []string{
		"workflow name is required",
		"Step 0: step_number must be positive",
		"Step 0: step_config",
		"Step 2: unknown template placeholder",
		"Step 2: duplicate step_number",
		"Step 2: webhook_url",
		"Step 4: invalid expression",
		"Step 5: step_config",
		"Step 6: at least one of tags or status is required",
	} {
		assert.Contains(t, joined, want)
	}
}

func TestValidateDefinition_WaitCapAndMalformedPlaceholder(t *testing.T) {
	def := models.WorkflowDefinition{ID: "wf", Name: "Caps", Steps: []models.WorkflowStep{
		{ID: "a", StepNumber: 1, StepType: models.StepTypeWait, StepConfig: json.RawMessage(`{"delay_days":1e300}`)},
		{ID: "b", StepNumber: 2, StepType: models.StepTypeWait, StepConfig: json.RawMessage(`{"delay_days":200,"delay_hours":5000}`)},
		{ID: "c", StepNumber: 3, StepType: models.StepTypeSMS, StepConfig: json.RawMessage(`{"sms_content":"Hi {{first-name}}"}`)},
		{ID: "d", StepNumber: 4, StepType: models.StepTypeWait, StepConfig: json.RawMessage(`{"delay_days":366}`)},
	}}
	joined := strings.Join(ValidateDefinition(def), "\n")
	assert.Contains(t, joined, "Step 1: step_config")
	assert.Contains(t, joined, "Step 2: combined delay must not exceed 366 days")
	assert.Contains(t, joined, "Step 3: unknown template placeholder: first-name")
	assert.NotContains(t, joined, "Step 4:")
}

const definitionsYAML = `
workflows:
  - id: welcome
    name: Welcome sequence
    steps:
      - step_number: 2
        step_type: sms
        step_config:
          sms_content: "Hi {{first_name}}"
      - step_number: 1
        step_type: wait
        step_config:
          delay_minutes: 10
          time_of_day: "09:30"
      - step_number: 3
        step_type: tag
        step_config:
          tags: [welcomed]
  - id: paused
    name: Paused sequence
    enabled: false
    steps:
      - step_number: 1
        step_type: end
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefinitions_YAML(t *testing.T) {
	defs, err := LoadDefinitions(writeFile(t, "workflows.yaml", definitionsYAML))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	w := defs[0]
	assert.Equal(t, "welcome", w.ID)
	assert.True(t, w.Enabled)
	require.Len(t, w.Steps, 3)
	assert.Equal(t, models.StepTypeWait, w.Steps[0].StepType)
	assert.Equal(t, "welcome-step-1", w.Steps[0].ID)
	assert.Equal(t, "welcome", w.Steps[0].WorkflowID)

	cfg, err := w.Steps[0].Config()
	require.NoError(t, err)
	wait := cfg.(models.WaitConfig)
	require.NotNil(t, wait.DelayMinutes)
	assert.Equal(t, 10.0, *wait.DelayMinutes)
	assert.Equal(t, "09:30", wait.TimeOfDay)

	assert.False(t, defs[1].Enabled)
}

func TestLoadDefinitions_JSONList(t *testing.T) {
	path := writeFile(t, "workflows.json", `[{"id":"j","name":"From JSON","steps":[{"step_number":1,"step_type":"sms","step_config":{"sms_content":"hey"}}]}]`)
	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "j", defs[0].ID)
	assert.JSONEq(t, `{"sms_content":"hey"}`, string(defs[0].Steps[0].StepConfig))
}

func TestImportDefinitions(t *testing.T) {
	st := store.NewInMemoryStore()
	n, err := ImportDefinitions(st, writeFile(t, "workflows.yaml", definitionsYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	def, err := st.GetWorkflow("welcome")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Len(t, def.Steps, 3)

	bad := writeFile(t, "bad.yaml", "workflows:\n  - id: bad\n    name: Bad\n    steps:\n      - step_number: 1\n        step_type: sms\n")
	_, err = ImportDefinitions(st, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sms_content")
	missing, err := st.GetWorkflow("bad")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
