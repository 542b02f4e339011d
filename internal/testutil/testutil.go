// Package testutil provides common test utilities and helpers for LeadPipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twilio"
	"github.com/BTreeMap/LeadPipe/internal/workflow"
)

// TestUserID owns every record seeded by TestEnv helpers.
const TestUserID = "user-test"

// TestFromNumber is registered as TestUserID's active sending number.
const TestFromNumber = "+15550001111"

// TB is the subset of testing.TB used by the assertion helpers.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// TestEnv bundles an API server with in-memory dependencies.
type TestEnv struct {
	Store  *store.InMemoryStore
	Twilio *twilio.MockClient
	Engine *workflow.Engine
	Server *api.Server
}

// NewTestEnv creates a test environment. Extra engine options are applied
// after the in-memory collaborators.
func NewTestEnv(t *testing.T, opts ...workflow.Option) *TestEnv {
	t.Helper()
	st := store.NewInMemoryStore()
	tw := twilio.NewMockClient()
	base := []workflow.Option{
		workflow.WithCaller(tw),
		workflow.WithSMSSender(messaging.NewSMSService(tw)),
	}
	engine := workflow.NewEngine(st, append(base, opts...)...)
	if err := st.SavePhoneNumber(models.PhoneNumber{UserID: TestUserID, Number: TestFromNumber, Active: true}); err != nil {
		t.Fatalf("failed to seed phone number: %v", err)
	}
	return &TestEnv{Store: st, Twilio: tw, Engine: engine, Server: api.NewServer(engine, "")}
}

// SeedLead stores a lead owned by TestUserID.
func (e *TestEnv) SeedLead(t *testing.T, id, phone string) models.Lead {
	t.Helper()
	lead := models.Lead{ID: id, UserID: TestUserID, FirstName: "Test", LastName: "Lead", PhoneNumber: phone}
	if err := e.Store.SaveLead(lead); err != nil {
		t.Fatalf("failed to seed lead %s: %v", id, err)
	}
	return lead
}

// SeedSMSWorkflow stores an enabled workflow with a single sms step.
func (e *TestEnv) SeedSMSWorkflow(t *testing.T, id, content string) models.WorkflowDefinition {
	t.Helper()
	def := models.WorkflowDefinition{
		ID:      id,
		UserID:  TestUserID,
		Name:    id,
		Enabled: true,
		Steps: []models.WorkflowStep{{
			ID:         id + "-step-1",
			WorkflowID: id,
			StepNumber: 1,
			StepType:   models.StepTypeSMS,
			StepConfig: MustMarshalJSON(t, models.SMSConfig{Content: content}),
		}},
	}
	if err := e.Store.SaveWorkflow(def); err != nil {
		t.Fatalf("failed to seed workflow %s: %v", id, err)
	}
	return def
}

// PostAction sends an action request to the server and returns the recorder.
func (e *TestEnv) PostAction(t *testing.T, req models.EngineRequest) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.Server.Handler().ServeHTTP(rr, CreateHTTPRequest(t, http.MethodPost, "/workflow-executor", req))
	return rr
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeEngineResponse decodes the recorder body and checks the success flag.
func DecodeEngineResponse(t TB, rr *httptest.ResponseRecorder, wantSuccess bool) models.EngineResponse {
	t.Helper()
	var resp models.EngineResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return resp
	}
	if resp.Success != wantSuccess {
		t.Errorf("expected success=%v, got %v (error %q)", wantSuccess, resp.Success, resp.Error)
	}
	return resp
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	} else {
		reqBody = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, url, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// CreateRawRequest creates an HTTP request with a literal body.
func CreateRawRequest(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
