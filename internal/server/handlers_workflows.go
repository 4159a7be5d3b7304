package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/jonathan/video-studio/internal/pipeline/steps"
	"github.com/jonathan/video-studio/internal/schemas"
	"github.com/jonathan/video-studio/internal/types"
)

const maxTriggerBytes = 64 << 10

// RunDetail is a run with its persisted step records.
type RunDetail struct {
	Run   *types.WorkflowRun `json:"run"`
	Steps []steps.Record     `json:"steps"`
}

// RunList is the response body for listing a video's runs.
type RunList struct {
	Runs  []types.WorkflowRun `json:"runs"`
	Count int                 `json:"count"`
}

// handleTriggerWorkflow validates the payload, persists a pending run and enqueues it.
// The response acknowledges the enqueue only; outcomes are read from the video or the run.
func (s *Server) handleTriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}

	workflow := r.PathValue("workflow")
	if _, known := s.deps.Workflows.Get(workflow); !known {
		s.errorFor(w, r, fmt.Errorf("%w: %q", ErrUnknownWorkflow, workflow))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTriggerBytes))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := schemas.Validate(schemas.WorkflowInput, body); err != nil {
		s.errorFor(w, r, err)
		return
	}

	var input types.WorkflowInput
	if err := json.Unmarshal(body, &input); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := input.Validate(workflow); err != nil {
		s.errorFor(w, r, err)
		return
	}
	if input.UserID != userID {
		s.errorFor(w, r, fmt.Errorf("%w: userId does not match the authenticated user", ErrForbidden))
		return
	}
	if err := s.ready(workflow); err != nil {
		s.errorFor(w, r, err)
		return
	}

	run, err := s.deps.Store.CreateRun(r.Context(), workflow, input)
	if err != nil {
		s.errorFor(w, r, err)
		return
	}
	s.enqueue(w, r, run)
}

// handleGetRun returns a run owned by the caller with its step records.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.ownedRun(w, r)
	if !ok {
		return
	}

	records, err := s.deps.Store.ListRunSteps(r.Context(), run.ID)
	if err != nil {
		s.errorFor(w, r, err)
		return
	}
	if records == nil {
		records = []steps.Record{}
	}
	s.jsonResponse(w, http.StatusOK, RunDetail{Run: run, Steps: records})
}

// handleListRuns lists the caller's runs for ?video_id=, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	videoID, err := uuid.Parse(r.URL.Query().Get("video_id"))
	if err != nil {
		s.errorFor(w, r, &ErrValidation{Field: "video_id", Message: "must be a UUID"})
		return
	}

	runs, err := s.deps.Store.ListRunsByVideo(r.Context(), videoID, userID)
	if err != nil {
		s.errorFor(w, r, err)
		return
	}
	if runs == nil {
		runs = []types.WorkflowRun{}
	}
	s.jsonResponse(w, http.StatusOK, RunList{Runs: runs, Count: len(runs)})
}

// handleRetryRun moves a failed run back to pending and enqueues it. Completed steps replay
// their stored results, so only the failed step and those after it execute again.
func (s *Server) handleRetryRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.ownedRun(w, r)
	if !ok {
		return
	}
	if run.Status != types.RunStatusFailed {
		s.errorFor(w, r, fmt.Errorf("%w: status is %s", ErrNotRetryable, run.Status))
		return
	}
	if err := s.ready(run.Workflow); err != nil {
		s.errorFor(w, r, err)
		return
	}

	reset, err := s.deps.Store.ResetRun(r.Context(), run.ID)
	if err != nil {
		s.errorFor(w, r, err)
		return
	}
	if !reset {
		s.errorFor(w, r, fmt.Errorf("%w: run changed state", ErrNotRetryable))
		return
	}
	run.Status = types.RunStatusPending
	s.enqueue(w, r, run)
}

// enqueue publishes a persisted run and acknowledges it. A publish failure leaves the run
// pending; the dispatcher resumes pending runs when it starts.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, run *types.WorkflowRun) {
	if err := s.deps.Runs.Enqueue(r.Context(), run); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to enqueue run, left pending",
			"run_id", run.ID, "workflow", run.Workflow, "error", err)
	}
	s.jsonResponse(w, http.StatusAccepted, types.TriggerResponse{WorkflowRunID: run.ID})
}

// ownedRun loads the run named in the path. Runs of other users are not found.
func (s *Server) ownedRun(w http.ResponseWriter, r *http.Request) (*types.WorkflowRun, bool) {
	userID, ok := s.caller(w, r)
	if !ok {
		return nil, false
	}
	runID, err := pathUUID(r, "id")
	if err != nil {
		s.errorFor(w, r, err)
		return nil, false
	}

	run, err := s.deps.Store.GetRun(r.Context(), runID)
	if err != nil {
		s.errorFor(w, r, err)
		return nil, false
	}
	if run == nil || run.UserID != userID {
		s.errorResponse(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	return run, true
}

func (s *Server) ready(workflow string) error {
	if s.deps.Ready == nil {
		return nil
	}
	return s.deps.Ready(workflow)
}
