package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// mockTestingT records failures instead of stopping the test.
type mockTestingT struct {
	failed   bool
	errorMsg string
}

func (m *mockTestingT) Helper() {}

func (m *mockTestingT) Errorf(format string, args ...any) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func (m *mockTestingT) Fatalf(format string, args ...any) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func TestNewTestEnv(t *testing.T) {
	env := NewTestEnv(t)
	if env.Server == nil || env.Engine == nil {
		t.Fatal("NewTestEnv returned an incomplete environment")
	}
	from, err := env.Store.FirstActiveNumber(TestUserID)
	if err != nil {
		t.Fatalf("FirstActiveNumber: %v", err)
	}
	if from != TestFromNumber {
		t.Errorf("expected seeded number %s, got %q", TestFromNumber, from)
	}
}

func TestSeedHelpers(t *testing.T) {
	env := NewTestEnv(t)
	env.SeedLead(t, "lead-a", "+15551230000")
	def := env.SeedSMSWorkflow(t, "wf-a", "Hi {{first_name}}")

	lead, err := env.Store.GetLead("lead-a")
	if err != nil || lead == nil {
		t.Fatalf("expected seeded lead, got %v (err %v)", lead, err)
	}
	stored, err := env.Store.GetWorkflow(def.ID)
	if err != nil || stored == nil {
		t.Fatalf("expected seeded workflow, got %v (err %v)", stored, err)
	}
	if len(stored.Steps) != 1 || stored.Steps[0].StepType != models.StepTypeSMS {
		t.Errorf("unexpected steps: %+v", stored.Steps)
	}
}

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{"matching status codes", 200, 200, false},
		{"different status codes", 200, 404, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v", tt.shouldFail, mockT.failed)
			}
		})
	}
}

func TestDecodeEngineResponse(t *testing.T) {
	tests := []struct {
		name        string
		jsonBody    string
		wantSuccess bool
		shouldFail  bool
	}{
		{"success matches", `{"success":true,"message":"ok"}`, true, false},
		{"failure matches", `{"success":false,"error":"bad"}`, false, false},
		{"success mismatch", `{"success":false,"error":"bad"}`, true, true},
		{"invalid JSON", `{"success":}`, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			rr := httptest.NewRecorder()
			rr.Body.WriteString(tt.jsonBody)
			DecodeEngineResponse(mockT, rr, tt.wantSuccess)
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v (%s)", tt.shouldFail, mockT.failed, mockT.errorMsg)
			}
		})
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/workflow-executor", models.EngineRequest{Action: models.ActionHealthCheck})
	if req.Method != http.MethodPost || req.URL.Path != "/workflow-executor" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("expected JSON content type, got %q", got)
	}

	req = CreateHTTPRequest(t, http.MethodGet, "/", nil)
	if req.Header.Get("Content-Type") != "" {
		t.Error("expected no content type without a body")
	}
}

func TestPostAction(t *testing.T) {
	env := NewTestEnv(t)
	rr := env.PostAction(t, models.EngineRequest{Action: models.ActionHealthCheck})
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "health_check")
	resp := DecodeEngineResponse(t, rr, true)
	if len(resp.Capabilities) == 0 {
		t.Error("expected capabilities in health_check response")
	}
}
