package twilio

import (
	"context"
	"fmt"
	"sync"
)

// MockClient records messages and calls instead of sending them.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	PlacedCalls  []CallRequest
	// SendErr and CallErr, when set, are returned by the matching method.
	SendErr error
	CallErr error
}

// SentMessage is one recorded SMS.
type SentMessage struct {
	From string
	To   string
	Body string
}

// Compile-time check that MockClient implements Sender.
var _ Sender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendSMS(ctx context.Context, from, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.SentMessages = append(m.SentMessages, SentMessage{From: from, To: to, Body: body})
	return fmt.Sprintf("SM%04d", len(m.SentMessages)), nil
}

func (m *MockClient) PlaceCall(ctx context.Context, req CallRequest) (CallResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallErr != nil {
		return CallResult{}, m.CallErr
	}
	m.PlacedCalls = append(m.PlacedCalls, req)
	return CallResult{SID: fmt.Sprintf("CA%04d", len(m.PlacedCalls)), Status: "queued"}, nil
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}

// Calls returns a copy of the recorded call requests.
func (m *MockClient) Calls() []CallRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CallRequest(nil), m.PlacedCalls...)
}
