package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twilio"
)

func TestSMSService_ImplementsService(t *testing.T) {
	var _ Service = (*SMSService)(nil)
}

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewSMSService(twilio.NewMockClient())
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"(555) 123-4567", "+15551234567", false},
		{"+44 20 7946 0958", "+442079460958", false},
		{"15551234567", "+15551234567", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := svc.ValidateAndCanonicalizeRecipient(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ValidateAndCanonicalizeRecipient(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestSMSService_SendSMS(t *testing.T) {
	mock := twilio.NewMockClient()
	svc := NewSMSService(mock)
	ctx := context.Background()

	if _, err := svc.SendSMS(ctx, "5550001111", "555-222-3333", "hello"); err != nil {
		t.Fatalf("SendSMS returned error: %v", err)
	}
	msgs := mock.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].From != "+15550001111" || msgs[0].To != "+15552223333" || msgs[0].Body != "hello" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}

	if _, err := svc.SendSMS(ctx, "+15550001111", "+15552223333", "  "); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("empty body error = %v; want ErrEmptyBody", err)
	}
	if _, err := svc.SendSMS(ctx, "", "+15552223333", "hi"); !errors.Is(err, ErrNoSender) {
		t.Errorf("missing from error = %v; want ErrNoSender", err)
	}

	long := strings.Repeat("é", MaxSMSLength)
	if _, err := svc.SendSMS(ctx, "+15550001111", "+15552223333", long); err != nil {
		t.Fatalf("SendSMS long body: %v", err)
	}
	sent := mock.Messages()[1].Body
	if len(sent) > MaxSMSLength || !strings.HasPrefix(long, sent) {
		t.Errorf("long body not truncated on a rune boundary: %d bytes", len(sent))
	}
}

type stubGenerator struct {
	text       string
	err        error
	userPrompt string
}

func (g *stubGenerator) GenerateWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	g.userPrompt = userPrompt
	return g.text, g.err
}

func TestAIMessenger_SendAIMessage(t *testing.T) {
	mock := twilio.NewMockClient()
	gen := &stubGenerator{text: " Hi Ada, still interested in a demo? "}
	m := NewAIMessenger(gen, NewSMSService(mock))

	res, err := m.SendAIMessage(context.Background(), AIRequest{
		From:       "+15550001111",
		Prompt:     "Offer a demo",
		Lead:       models.Lead{ID: "lead-1", FirstName: "Ada", Company: "Analytical", PhoneNumber: "+15552223333"},
		WorkflowID: "wf-1",
		Context:    map[string]string{"offer": "free trial"},
	})
	if err != nil {
		t.Fatalf("SendAIMessage: %v", err)
	}
	if res.Body != "Hi Ada, still interested in a demo?" {
		t.Errorf("Body = %q", res.Body)
	}
	for _, want := range []string{"Offer a demo", "Name: Ada", "Company: Analytical", "offer: free trial"} {
		if !strings.Contains(gen.userPrompt, want) {
			t.Errorf("user prompt missing %q:\n%s", want, gen.userPrompt)
		}
	}
	if msgs := mock.Messages(); len(msgs) != 1 || msgs[0].To != "+15552223333" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestAIMessenger_Errors(t *testing.T) {
	mock := twilio.NewMockClient()
	if _, err := NewAIMessenger(nil, NewSMSService(mock)).SendAIMessage(context.Background(), AIRequest{}); !errors.Is(err, ErrNoGenerator) {
		t.Errorf("nil generator error = %v; want ErrNoGenerator", err)
	}

	gen := &stubGenerator{err: errors.New("quota")}
	_, err := NewAIMessenger(gen, NewSMSService(mock)).SendAIMessage(context.Background(), AIRequest{From: "+15550001111", Lead: models.Lead{PhoneNumber: "+15552223333"}})
	if err == nil || !strings.Contains(err.Error(), "quota") {
		t.Errorf("generation error = %v", err)
	}
	if len(mock.Messages()) != 0 {
		t.Error("nothing should be sent when generation fails")
	}
}
