package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ErrNoGenerator is returned when an AI message is requested without a model.
var ErrNoGenerator = errors.New("ai message generator not configured")

// aiSystemPrompt frames every generated follow-up message.
const aiSystemPrompt = `You write short, friendly SMS follow-up messages on behalf of a sales team.
Address the lead by first name when it is known. Keep the message under 300 characters,
plain text, no emojis, no links unless the instructions include one.
Reply with the message text only.`

// Generator produces text from a system and user prompt.
type Generator interface {
	GenerateWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AIRequest describes one AI-generated message for a lead in a workflow.
type AIRequest struct {
	From       string
	Prompt     string
	Lead       models.Lead
	WorkflowID string
	StepID     string
	Context    map[string]string
}

// AIResult reports what was sent.
type AIResult struct {
	MessageID string
	Body      string
}

// AIMessenger generates a message with a language model and sends it as SMS.
type AIMessenger struct {
	gen Generator
	sms Service
}

// NewAIMessenger creates an AIMessenger. gen may be nil, in which case every
// request fails with ErrNoGenerator.
func NewAIMessenger(gen Generator, sms Service) *AIMessenger {
	return &AIMessenger{gen: gen, sms: sms}
}

// SendAIMessage generates the message for req and sends it to the lead.
func (m *AIMessenger) SendAIMessage(ctx context.Context, req AIRequest) (AIResult, error) {
	if m.gen == nil {
		return AIResult{}, ErrNoGenerator
	}
	body, err := m.gen.GenerateWithContext(ctx, aiSystemPrompt, buildUserPrompt(req))
	if err != nil {
		slog.Error("AIMessenger.SendAIMessage generation failed", "leadID", req.Lead.ID, "workflowID", req.WorkflowID, "error", err)
		return AIResult{}, fmt.Errorf("generate ai message: %w", err)
	}
	body = strings.TrimSpace(body)

	id, err := m.sms.SendSMS(ctx, req.From, req.Lead.PhoneNumber, body)
	if err != nil {
		return AIResult{}, fmt.Errorf("send ai message: %w", err)
	}
	slog.Debug("AIMessenger.SendAIMessage sent", "leadID", req.Lead.ID, "workflowID", req.WorkflowID, "stepID", req.StepID, "length", len(body))
	return AIResult{MessageID: id, Body: body}, nil
}

func buildUserPrompt(req AIRequest) string {
	var b strings.Builder
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = "Write a brief, friendly check-in message."
	}
	b.WriteString("Instructions: ")
	b.WriteString(prompt)
	b.WriteString("\n\nLead:\n")

	l := req.Lead
	for _, field := range [][2]string{
		{"Name", l.FullName()},
		{"Company", l.Company},
		{"City", l.City},
		{"State", l.State},
		{"Status", l.Status},
		{"Tags", strings.Join(l.Tags, ", ")},
	} {
		if field[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", field[0], field[1])
	}

	if len(req.Context) > 0 {
		b.WriteString("\nContext:\n")
		keys := make([]string, 0, len(req.Context))
		for k := range req.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, req.Context[k])
		}
	}
	return b.String()
}
