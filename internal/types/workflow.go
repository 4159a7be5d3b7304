package types

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Workflow names accepted by the trigger endpoint.
const (
	WorkflowTitle       = "title"
	WorkflowDescription = "description"
	WorkflowThumbnail   = "thumbnail"
)

// WorkflowInput is the immutable payload every workflow run receives.
type WorkflowInput struct {
	UserID  uuid.UUID `json:"userId" validate:"required"`
	VideoID uuid.UUID `json:"videoId" validate:"required"`
	Prompt  string    `json:"prompt,omitempty" validate:"omitempty,max=1000"`
}

// Validate checks the input for the given workflow. The thumbnail workflow needs a prompt.
func (in *WorkflowInput) Validate(workflow string) error {
	validate := validator.New()
	if err := validate.Struct(in); err != nil {
		return err
	}
	if in.UserID == uuid.Nil || in.VideoID == uuid.Nil {
		return &InputError{Field: "userId/videoId", Message: "must be a non-nil UUID"}
	}
	if workflow == WorkflowThumbnail && in.Prompt == "" {
		return &InputError{Field: "prompt", Message: "is required for the thumbnail workflow"}
	}
	return nil
}

// InputError reports a workflow input that passed struct validation but is still unusable.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return e.Field + " " + e.Message
}

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further execution happens for this status without a retry.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// WorkflowRun is one execution instance of a workflow.
type WorkflowRun struct {
	ID           uuid.UUID       `json:"id"`
	Workflow     string          `json:"workflow"`
	UserID       uuid.UUID       `json:"user_id"`
	VideoID      uuid.UUID       `json:"video_id"`
	Input        json.RawMessage `json:"input"`
	Status       RunStatus       `json:"status"`
	CurrentStep  *string         `json:"current_step,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// DecodeInput returns the run's stored WorkflowInput.
func (r *WorkflowRun) DecodeInput() (WorkflowInput, error) {
	var in WorkflowInput
	err := json.Unmarshal(r.Input, &in)
	return in, err
}

// TriggerResponse acknowledges an enqueued run.
type TriggerResponse struct {
	WorkflowRunID uuid.UUID `json:"workflowRunId"`
}
