package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

const stepSchemaBase = "https://leadpipe.dev/schemas/steps/"

// stepSchemas holds the JSON Schema for each step type's step_config.
var stepSchemas = map[models.StepType]string{
	models.StepTypeCall: `{
  "type": "object",
  "properties": {
    "agent_id": {"type": "string"},
    "from_number": {"type": "string"},
    "skip_if_contacted": {"type": "boolean"}
  }
}`,
	models.StepTypeSMS: `{
  "type": "object",
  "required": ["sms_content"],
  "properties": {
    "sms_content": {"type": "string", "minLength": 1},
    "from_number": {"type": "string"}
  }
}`,
	models.StepTypeAISMS: `{
  "type": "object",
  "properties": {
    "ai_prompt": {"type": "string"},
    "from_number": {"type": "string"},
    "context": {"type": "object", "additionalProperties": {"type": "string"}}
  }
}`,
	models.StepTypeWait: `{
  "type": "object",
  "properties": {
    "delay_minutes": {"type": "number", "minimum": 0, "maximum": 527040},
    "delay_hours": {"type": "number", "minimum": 0, "maximum": 8784},
    "delay_days": {"type": "number", "minimum": 0, "maximum": 366},
    "time_of_day": {"type": "string", "pattern": "^([01][0-9]|2[0-3]):[0-5][0-9]$"}
  },
  "anyOf": [
    {"required": ["delay_minutes"]},
    {"required": ["delay_hours"]},
    {"required": ["delay_days"]},
    {"required": ["time_of_day"]}
  ]
}`,
	models.StepTypeWebhook: `{
  "type": "object",
  "required": ["webhook_url"],
  "properties": {
    "webhook_url": {"type": "string", "minLength": 1},
    "method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"]},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "custom_data": {"type": "object"}
  }
}`,
	models.StepTypeTag: tagSchema,
	models.StepTypeUpdateStatus: tagSchema,
	models.StepTypeCondition: conditionSchema,
	models.StepTypeBranch: conditionSchema,
}

const tagSchema = `{
  "type": "object",
  "properties": {
    "tags": {"type": "array", "items": {"type": "string"}},
    "status": {"type": "string"},
    "lead_status": {"type": "string"}
  }
}`

const conditionSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string"}
  }
}`

var (
	compiledSchemasOnce sync.Once
	compiledSchemas     map[models.StepType]*jsonschema.Schema
	compiledSchemasErr  error
)

func loadStepSchemas() (map[models.StepType]*jsonschema.Schema, error) {
	compiledSchemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		compiled := make(map[models.StepType]*jsonschema.Schema, len(stepSchemas))
		for stepType, src := range stepSchemas {
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
			if err != nil {
				compiledSchemasErr = fmt.Errorf("unmarshal %s schema: %w", stepType, err)
				return
			}
			url := stepSchemaBase + string(stepType) + ".json"
			if err := c.AddResource(url, doc); err != nil {
				compiledSchemasErr = fmt.Errorf("add %s schema: %w", stepType, err)
				return
			}
			s, err := c.Compile(url)
			if err != nil {
				compiledSchemasErr = fmt.Errorf("compile %s schema: %w", stepType, err)
				return
			}
			compiled[stepType] = s
		}
		compiledSchemas = compiled
	})
	return compiledSchemas, compiledSchemasErr
}

// ValidateDefinition checks a workflow definition before it is stored. It
// returns every problem found; an empty result means the definition is valid.
func ValidateDefinition(def models.WorkflowDefinition) []string {
	var problems []string
	if strings.TrimSpace(def.ID) == "" {
		problems = append(problems, "workflow id is required")
	}
	if strings.TrimSpace(def.Name) == "" {
		problems = append(problems, "workflow name is required")
	}

	schemas, err := loadStepSchemas()
	if err != nil {
		return append(problems, err.Error())
	}

	numbers := make(map[int]struct{}, len(def.Steps))
	ids := make(map[string]struct{}, len(def.Steps))
	for _, step := range def.Steps {
		prefix := fmt.Sprintf("Step %d: ", step.StepNumber)
		if step.StepNumber <= 0 {
			problems = append(problems, prefix+"step_number must be positive")
		}
		if _, dup := numbers[step.StepNumber]; dup {
			problems = append(problems, prefix+"duplicate step_number")
		}
		numbers[step.StepNumber] = struct{}{}
		if step.ID != "" {
			if _, dup := ids[step.ID]; dup {
				problems = append(problems, prefix+fmt.Sprintf("duplicate step id %q", step.ID))
			}
			ids[step.ID] = struct{}{}
		}

		if !models.IsKnownStepType(step.StepType) {
			slog.Warn("ValidateDefinition: unknown step type will be skipped at run time", "workflowID", def.ID, "stepNumber", step.StepNumber, "stepType", step.StepType)
			continue
		}
		if s, ok := schemas[step.StepType]; ok {
			raw := bytes.TrimSpace(step.StepConfig)
			if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
				raw = []byte("{}")
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
			if err != nil {
				problems = append(problems, prefix+fmt.Sprintf("step_config is not valid JSON: %v", err))
				continue
			}
			if err := s.Validate(doc); err != nil {
				problems = append(problems, prefix+schemaMessage(err))
				continue
			}
		}

		cfg, err := step.Config()
		if err != nil {
			problems = append(problems, prefix+err.Error())
			continue
		}
		for _, p := range cfg.Validate() {
			problems = append(problems, prefix+p)
		}
		switch c := cfg.(type) {
		case models.SMSConfig:
			if err := CheckTemplate(c.Content); err != nil {
				problems = append(problems, prefix+err.Error())
			}
		case models.ConditionConfig:
			if strings.TrimSpace(c.Expression) != "" {
				if _, err := compileCondition(c.Expression); err != nil {
					problems = append(problems, prefix+err.Error())
				}
			}
		}
	}
	return problems
}

// schemaMessage flattens a validation error onto one line.
func schemaMessage(err error) string {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		return "step_config " + strings.Join(strings.Fields(ve.Error()), " ")
	}
	return err.Error()
}

// definitionFile is the on-disk shape of a workflow file. Step configs are
// free-form maps so they can be written as YAML.
type definitionFile struct {
	Workflows []fileWorkflow `yaml:"workflows"`
}

type fileWorkflow struct {
	ID      string     `yaml:"id"`
	UserID  string     `yaml:"user_id"`
	Name    string     `yaml:"name"`
	Enabled *bool      `yaml:"enabled"`
	Steps   []fileStep `yaml:"steps"`
}

type fileStep struct {
	ID         string         `yaml:"id"`
	StepNumber int            `yaml:"step_number"`
	StepType   string         `yaml:"step_type"`
	StepConfig map[string]any `yaml:"step_config"`
}

// LoadDefinitions reads workflow definitions from a YAML or JSON file. The
// file holds either a "workflows" list or a bare list. Steps without an id
// get one derived from the workflow id and step number; enabled defaults to true.
func LoadDefinitions(path string) ([]models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil || len(file.Workflows) == 0 {
		var list []fileWorkflow
		if listErr := yaml.Unmarshal(data, &list); listErr != nil {
			if err != nil {
				return nil, fmt.Errorf("parse workflow file %s: %w", path, err)
			}
			return nil, fmt.Errorf("parse workflow file %s: %w", path, listErr)
		}
		file.Workflows = list
	}

	defs := make([]models.WorkflowDefinition, 0, len(file.Workflows))
	for _, fw := range file.Workflows {
		def := models.WorkflowDefinition{
			ID:      fw.ID,
			UserID:  fw.UserID,
			Name:    fw.Name,
			Enabled: fw.Enabled == nil || *fw.Enabled,
		}
		if def.ID == "" {
			def.ID = util.GenerateID()
		}
		for _, fs := range fw.Steps {
			step := models.WorkflowStep{
				ID:         fs.ID,
				WorkflowID: def.ID,
				StepNumber: fs.StepNumber,
				StepType:   models.StepType(fs.StepType),
			}
			if step.ID == "" {
				step.ID = fmt.Sprintf("%s-step-%d", def.ID, fs.StepNumber)
			}
			if fs.StepConfig != nil {
				raw, err := json.Marshal(fs.StepConfig)
				if err != nil {
					return nil, fmt.Errorf("workflow %s step %d: encode step_config: %w", def.ID, fs.StepNumber, err)
				}
				step.StepConfig = raw
			}
			def.Steps = append(def.Steps, step)
		}
		def.SortSteps()
		defs = append(defs, def)
	}
	return defs, nil
}

// ImportDefinitions loads, validates and stores every workflow in path.
// Nothing is stored if any definition is invalid.
func ImportDefinitions(st store.Store, path string) (int, error) {
	defs, err := LoadDefinitions(path)
	if err != nil {
		return 0, err
	}
	var problems []string
	for _, def := range defs {
		for _, p := range ValidateDefinition(def) {
			problems = append(problems, fmt.Sprintf("workflow %q: %s", def.ID, p))
		}
	}
	if len(problems) > 0 {
		return 0, fmt.Errorf("invalid workflow definitions: %s", strings.Join(problems, "; "))
	}
	for _, def := range defs {
		if err := st.SaveWorkflow(def); err != nil {
			return 0, fmt.Errorf("save workflow %s: %w", def.ID, err)
		}
		slog.Info("ImportDefinitions: workflow stored", "workflowID", def.ID, "steps", len(def.Steps))
	}
	return len(defs), nil
}
