package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/video-studio/internal/imagegen"
	"github.com/jonathan/video-studio/internal/pipeline"
	"github.com/jonathan/video-studio/internal/schemas"
	"github.com/jonathan/video-studio/internal/types"
)

var (
	// ErrUnknownWorkflow is returned for trigger paths naming no registered workflow.
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrForbidden means the caller may not act for the user named in the payload.
	ErrForbidden = errors.New("forbidden")
	// ErrNotRetryable means only failed runs can be retried.
	ErrNotRetryable = errors.New("run is not in a retryable state")
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validation   *ErrValidation
		schemaErr    *schemas.ValidationError
		inputErr     *types.InputError
		validatorErr validator.ValidationErrors
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &schemaErr),
		errors.As(err, &inputErr), errors.As(err, &validatorErr),
		errors.Is(err, imagegen.ErrNoData), errors.Is(err, imagegen.ErrNotImage):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, ErrUnknownWorkflow):
		return http.StatusNotFound
	case errors.Is(err, ErrNotRetryable):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrUploadFailed), errors.Is(err, pipeline.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
