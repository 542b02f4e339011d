package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/workflow"
)

// maxRequestBytes caps the size of an action request body.
const maxRequestBytes = 1 << 20

func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

// workflowExecutorHandler dispatches a workflow executor action.
func (s *Server) workflowExecutorHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		slog.Warn("Server.workflowExecutorHandler: method not allowed", "method", r.Method)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req models.EngineRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		slog.Warn("Server.workflowExecutorHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.workflowExecutorHandler: invalid request", "action", req.Action, "error", err)
		msg := err.Error()
		if errors.Is(err, models.ErrUnknownAction) {
			msg = fmt.Sprintf("Unknown action: %q", req.Action)
		}
		writeJSONResponse(w, http.StatusBadRequest, models.Error(msg))
		return
	}
	slog.Debug("Server.workflowExecutorHandler: dispatching", "action", req.Action, "leadID", req.LeadID, "workflowID", req.WorkflowID)

	switch req.Action {
	case models.ActionHealthCheck:
		s.handleHealthCheck(w)
	case models.ActionStartWorkflow:
		s.handleStartWorkflow(w, r, req)
	case models.ActionExecutePending:
		s.handleExecutePending(w, r)
	case models.ActionRemoveFromWorkflow:
		s.handleRemoveFromWorkflow(w, r, req)
	case models.ActionPauseWorkflow, models.ActionResumeWorkflow:
		s.handlePauseResume(w, r, req)
	case models.ActionGetProgress:
		s.handleGetProgress(w, r, req)
	}
}

func (s *Server) handleHealthCheck(w http.ResponseWriter) {
	writeJSONResponse(w, http.StatusOK, models.NewEngineResponseBuilder().
		WithSuccess(true).
		WithMessage("Workflow executor is healthy").
		WithCapabilities(workflow.Capabilities()).
		Build())
}

func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request, req models.EngineRequest) {
	res, err := s.engine.StartWorkflow(r.Context(), workflow.EnrollRequest{
		UserID:     req.UserID,
		LeadID:     req.LeadID,
		WorkflowID: req.WorkflowID,
		CampaignID: req.CampaignID,
	})
	if err != nil {
		slog.Error("Server.handleStartWorkflow: enrollment failed", "leadID", req.LeadID, "workflowID", req.WorkflowID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}

	b := models.NewEngineResponseBuilder().WithAction(res.Outcome).WithProgressID(res.ProgressID)
	switch res.Outcome {
	case models.OutcomeEnrolled:
		writeJSONResponse(w, http.StatusOK, b.WithSuccess(true).WithMessage("Lead enrolled in workflow").Build())
	case models.OutcomeAlreadyEnrolled:
		writeJSONResponse(w, http.StatusOK, b.WithSuccess(true).WithMessage("Lead is already enrolled in this workflow").Build())
	case models.OutcomeDuplicatePhoneEnrolled:
		writeJSONResponse(w, http.StatusOK, b.WithError("Another lead with the same phone number is already enrolled in this workflow").Build())
	default:
		writeJSONResponse(w, http.StatusBadRequest, b.
			WithError("Workflow validation failed").
			WithValidationErrors(res.ValidationErrors).
			Build())
	}
}

func (s *Server) handleExecutePending(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.ExecutePending(r.Context())
	if err != nil {
		slog.Error("Server.handleExecutePending: pass failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.NewEngineResponseBuilder().
		WithSuccess(true).
		WithMessage(fmt.Sprintf("Processed %d enrollments", summary.Processed)).
		WithSummary(summary).
		Build())
}

func (s *Server) handleRemoveFromWorkflow(w http.ResponseWriter, r *http.Request, req models.EngineRequest) {
	n, err := s.engine.RemoveFromWorkflow(r.Context(), req.LeadID, req.WorkflowID, req.Reason)
	if err != nil {
		slog.Error("Server.handleRemoveFromWorkflow: removal failed", "leadID", req.LeadID, "workflowID", req.WorkflowID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.NewEngineResponseBuilder().
		WithSuccess(true).
		WithMessage(fmt.Sprintf("Removed %d enrollments", n)).
		WithAffected(n).
		Build())
}

func (s *Server) handlePauseResume(w http.ResponseWriter, r *http.Request, req models.EngineRequest) {
	op, verb := s.engine.PauseWorkflow, "Paused"
	if req.Action == models.ActionResumeWorkflow {
		op, verb = s.engine.ResumeWorkflow, "Resumed"
	}
	n, err := op(r.Context(), req.LeadID, req.WorkflowID)
	if err != nil {
		slog.Error("Server.handlePauseResume: update failed", "action", req.Action, "leadID", req.LeadID, "workflowID", req.WorkflowID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.NewEngineResponseBuilder().
		WithSuccess(true).
		WithMessage(fmt.Sprintf("%s %d enrollments", verb, n)).
		WithAffected(n).
		Build())
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request, req models.EngineRequest) {
	rows, err := s.engine.GetProgress(r.Context(), req.LeadID)
	if err != nil {
		slog.Error("Server.handleGetProgress: lookup failed", "leadID", req.LeadID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.NewEngineResponseBuilder().
		WithSuccess(true).
		WithProgress(rows).
		Build())
}
