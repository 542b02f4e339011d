package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/testutil"
)

func TestPreflightAndMethods(t *testing.T) {
	env := testutil.NewTestEnv(t)
	h := env.Server.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/workflow-executor", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "OPTIONS preflight")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected permissive CORS origin, got %q", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/workflow-executor", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET")
	if rr.Header().Get("Allow") == "" {
		t.Error("expected Allow header on 405")
	}
}

func TestBadRequests(t *testing.T) {
	env := testutil.NewTestEnv(t)
	h := env.Server.Handler()
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"invalid JSON", `{"action":`, "Invalid JSON format"},
		{"unknown action", `{"action":"launch_rockets"}`, `Unknown action: "launch_rockets"`},
		{"start without lead", `{"action":"start_workflow","userId":"u","workflowId":"w"}`, "leadId is required"},
		{"pause without workflow", `{"action":"pause_workflow","leadId":"l"}`, "workflowId is required"},
		{"start without user", `{"action":"start_workflow","leadId":"l","workflowId":"w"}`, "userId is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, testutil.CreateRawRequest(http.MethodPost, "/workflow-executor", tt.body))
			testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, tt.name)
			resp := testutil.DecodeEngineResponse(t, rr, false)
			if resp.Error != tt.wantErr {
				t.Errorf("expected error %q, got %q", tt.wantErr, resp.Error)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	env := testutil.NewTestEnv(t)
	for _, path := range []string{"/workflow-executor", "/"} {
		rr := httptest.NewRecorder()
		env.Server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, path, models.EngineRequest{Action: models.ActionHealthCheck}))
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health_check "+path)
		resp := testutil.DecodeEngineResponse(t, rr, true)
		found := false
		for _, c := range resp.Capabilities {
			if c == "step:sms" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected step:sms capability, got %v", resp.Capabilities)
		}
	}
}

func startRequest(leadID, workflowID string) models.EngineRequest {
	return models.EngineRequest{Action: models.ActionStartWorkflow, UserID: testutil.TestUserID, LeadID: leadID, WorkflowID: workflowID}
}

func TestStartWorkflowOutcomes(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.SeedLead(t, "lead-1", "+15551234567")
	env.SeedLead(t, "lead-2", "(555) 123-4567")
	env.SeedSMSWorkflow(t, "wf-1", "Hi {{first_name}}")

	rr := env.PostAction(t, startRequest("lead-1", "wf-1"))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "first enrollment")
	first := testutil.DecodeEngineResponse(t, rr, true)
	if first.Action != models.OutcomeEnrolled || first.ProgressID == "" {
		t.Fatalf("expected enrolled with progress id, got %+v", first)
	}

	rr = env.PostAction(t, startRequest("lead-1", "wf-1"))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "repeat enrollment")
	again := testutil.DecodeEngineResponse(t, rr, true)
	if again.Action != models.OutcomeAlreadyEnrolled || again.ProgressID != first.ProgressID {
		t.Errorf("expected already_enrolled for %s, got %+v", first.ProgressID, again)
	}

	rr = env.PostAction(t, startRequest("lead-2", "wf-1"))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "duplicate phone")
	dup := testutil.DecodeEngineResponse(t, rr, false)
	if dup.Action != models.OutcomeDuplicatePhoneEnrolled {
		t.Errorf("expected duplicate_phone_enrolled, got %+v", dup)
	}
}

func TestStartWorkflowValidationFailure(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.SeedSMSWorkflow(t, "wf-1", "Hi")

	rr := env.PostAction(t, startRequest("ghost", "wf-1"))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "validation failure")
	resp := testutil.DecodeEngineResponse(t, rr, false)
	if resp.Action != models.OutcomeValidationFailed {
		t.Errorf("expected validation_failed, got %q", resp.Action)
	}
	if len(resp.ValidationErrors) == 0 || resp.ValidationErrors[0] != "Lead not found" {
		t.Errorf("expected Lead not found, got %v", resp.ValidationErrors)
	}
}

func TestExecutePendingSendsDueSMS(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.SeedLead(t, "lead-1", "+15551234567")
	env.SeedSMSWorkflow(t, "wf-1", "Hi {{first_name}}")
	testutil.DecodeEngineResponse(t, env.PostAction(t, startRequest("lead-1", "wf-1")), true)

	rr := env.PostAction(t, models.EngineRequest{Action: models.ActionExecutePending})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "execute_pending")
	resp := testutil.DecodeEngineResponse(t, rr, true)
	if resp.Summary == nil || resp.Summary.Processed != 1 || resp.Summary.Completed != 1 {
		t.Fatalf("unexpected summary: %+v", resp.Summary)
	}

	msgs := env.Twilio.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one SMS, got %d", len(msgs))
	}
	if msgs[0].Body != "Hi Test" || msgs[0].From != testutil.TestFromNumber || msgs[0].To != "+15551234567" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}

	rr = env.PostAction(t, models.EngineRequest{Action: models.ActionExecutePending})
	resp = testutil.DecodeEngineResponse(t, rr, true)
	if resp.Summary.Processed != 0 {
		t.Errorf("expected nothing due on second pass, got %d", resp.Summary.Processed)
	}
}

func TestControlActions(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.SeedLead(t, "lead-1", "+15551234567")
	env.SeedSMSWorkflow(t, "wf-1", "Hi")
	testutil.DecodeEngineResponse(t, env.PostAction(t, startRequest("lead-1", "wf-1")), true)

	affected := func(action string) int {
		t.Helper()
		rr := env.PostAction(t, models.EngineRequest{Action: action, LeadID: "lead-1", WorkflowID: "wf-1"})
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, action)
		resp := testutil.DecodeEngineResponse(t, rr, true)
		if resp.Affected == nil {
			t.Fatalf("%s: expected affected count", action)
		}
		return *resp.Affected
	}
	status := func() models.ProgressStatus {
		t.Helper()
		rr := env.PostAction(t, models.EngineRequest{Action: models.ActionGetProgress, LeadID: "lead-1"})
		resp := testutil.DecodeEngineResponse(t, rr, true)
		if len(resp.Progress) != 1 {
			t.Fatalf("expected one progress row, got %d", len(resp.Progress))
		}
		return resp.Progress[0].Status
	}

	if n := affected(models.ActionPauseWorkflow); n != 1 {
		t.Errorf("pause: expected 1 affected, got %d", n)
	}
	if s := status(); s != models.ProgressPaused {
		t.Errorf("expected paused, got %s", s)
	}
	lead, _ := env.Store.GetLead("lead-1")
	if lead == nil || !lead.SequencePaused {
		t.Error("expected lead sequence to be paused")
	}

	if n := affected(models.ActionResumeWorkflow); n != 1 {
		t.Errorf("resume: expected 1 affected, got %d", n)
	}
	if s := status(); s != models.ProgressActive {
		t.Errorf("expected active, got %s", s)
	}

	if n := affected(models.ActionRemoveFromWorkflow); n != 1 {
		t.Errorf("remove: expected 1 affected, got %d", n)
	}
	if s := status(); s != models.ProgressRemoved {
		t.Errorf("expected removed, got %s", s)
	}
	if n := affected(models.ActionRemoveFromWorkflow); n != 0 {
		t.Errorf("second remove: expected 0 affected, got %d", n)
	}
}
