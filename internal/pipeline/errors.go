package pipeline

import (
	"errors"
	"fmt"

	"github.com/jonathan/video-studio/internal/fetch"
	"github.com/jonathan/video-studio/internal/llm"
	"github.com/jonathan/video-studio/internal/pipeline/steps"
)

// Failure kinds. Match with errors.Is; a step error may carry more than one.
var (
	// ErrNotFound means the video does not exist or belongs to another user. It is never retried.
	ErrNotFound = errors.New("video not found")
	// ErrUpstreamUnavailable means a provider returned a non-success status, no body, or no answer.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrTranscriptUnavailable is the upstream failure of the transcript provider.
	ErrTranscriptUnavailable = fmt.Errorf("transcript unavailable: %w", ErrUpstreamUnavailable)
	// ErrGenerationFailed is the upstream failure of a text or image generator.
	ErrGenerationFailed = fmt.Errorf("generation failed: %w", ErrUpstreamUnavailable)
	// ErrGenerationEmpty means the generator succeeded but nothing usable remained after cleanup.
	ErrGenerationEmpty = errors.New("generation returned no usable content")
	// ErrUploadFailed means the asset could not be fetched or stored.
	ErrUploadFailed = errors.New("upload failed")
	// ErrPersistence means a database read or write failed.
	ErrPersistence = errors.New("persistence failure")
	// ErrNotConfigured means a workflow's generator could not be built from configuration.
	ErrNotConfigured = errors.New("workflow not configured")
)

// wrap attaches a failure kind to err.
func wrap(kind, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}

// permanentIf marks err permanent when the cause cannot change on retry.
func permanentIf(err, cause error) error {
	var cfgErr *llm.ConfigError
	var fetchErr *fetch.Error
	var statusErr *llm.StatusError
	switch {
	case errors.As(cause, &cfgErr):
		return steps.Permanent(err)
	case errors.As(cause, &fetchErr) && !fetchErr.Retryable():
		return steps.Permanent(err)
	case errors.As(cause, &statusErr) && !statusErr.Retryable():
		return steps.Permanent(err)
	}
	return err
}

// notFound is the terminal failure for a missing or foreign video.
func notFound() error {
	return steps.Permanent(ErrNotFound)
}
