package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonathan/video-studio/internal/llm"
	"github.com/jonathan/video-studio/internal/pipeline/steps"
	"github.com/jonathan/video-studio/internal/prompts"
	"github.com/jonathan/video-studio/internal/transcript"
	"github.com/jonathan/video-studio/internal/types"
)

// Step names. Persisted step results are keyed by these.
const (
	StepGetVideo            = "get-video"
	StepGetTranscript       = "get-transcript"
	StepGenerateTitle       = "generate-title"
	StepGenerateDescription = "generate-description"
	StepCleanupThumbnail    = "cleanup-thumbnail"
	StepGenerateThumbnail   = "generate-thumbnail"
	StepUploadThumbnail     = "upload-thumbnail"
	StepUpdateVideo         = "update-video"
)

// Workflows returns the title, description and thumbnail workflows bound to d.
func (d *Deps) Workflows() []steps.Workflow {
	return []steps.Workflow{
		{
			Name:    types.WorkflowTitle,
			Steps:   []string{StepGetVideo, StepGetTranscript, StepGenerateTitle, StepUpdateVideo},
			Handler: d.runTitle,
		},
		{
			Name:    types.WorkflowDescription,
			Steps:   []string{StepGetVideo, StepGetTranscript, StepGenerateDescription, StepUpdateVideo},
			Handler: d.runDescription,
		},
		{
			Name:    types.WorkflowThumbnail,
			Steps:   []string{StepGetVideo, StepCleanupThumbnail, StepGenerateThumbnail, StepUploadThumbnail, StepUpdateVideo},
			Handler: d.runThumbnail,
		},
	}
}

// NewRegistry registers the workflows bound to d.
func NewRegistry(d *Deps) (*steps.Registry, error) {
	return steps.NewRegistry(d.Workflows()...)
}

// decodeInput parses and validates the run's stored input. Invalid input cannot be fixed
// by retrying.
func decodeInput(raw json.RawMessage, workflow string) (types.WorkflowInput, error) {
	var in types.WorkflowInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, steps.Permanent(fmt.Errorf("invalid workflow input: %w", err))
	}
	if err := in.Validate(workflow); err != nil {
		return in, steps.Permanent(fmt.Errorf("invalid workflow input: %w", err))
	}
	return in, nil
}

// getVideo is the first step of every workflow.
func (d *Deps) getVideo(ctx context.Context, sc *steps.Context, in types.WorkflowInput) (types.Video, error) {
	return steps.Run(ctx, sc, StepGetVideo, func(ctx context.Context) (types.Video, error) {
		video, err := d.Videos.GetVideo(ctx, in.VideoID, in.UserID)
		if err != nil {
			return types.Video{}, wrap(ErrPersistence, err)
		}
		if video == nil {
			return types.Video{}, notFound()
		}
		return *video, nil
	})
}

func (d *Deps) getTranscript(ctx context.Context, sc *steps.Context, video types.Video) (string, error) {
	return steps.Run(ctx, sc, StepGetTranscript, func(ctx context.Context) (string, error) {
		if !video.HasTranscriptTrack() {
			return "", steps.Permanent(wrap(ErrTranscriptUnavailable, transcript.ErrMissingTrack))
		}
		text, err := d.Transcripts.Fetch(ctx, *video.MuxPlaybackID, *video.MuxTrackID)
		if err != nil {
			return "", permanentIf(wrap(ErrTranscriptUnavailable, err), err)
		}
		return text, nil
	})
}

// generateText renders the system and user prompts and calls client.
func generateText(ctx context.Context, client llm.Client, systemKey, userKey string, data map[string]string, tier llm.ModelTier) (string, error) {
	system, err := prompts.Render(systemKey, nil)
	if err != nil {
		return "", steps.Permanent(err)
	}
	user, err := prompts.Render(userKey, data)
	if err != nil {
		return "", steps.Permanent(err)
	}

	text, err := client.GenerateText(ctx, llm.Request{System: system, Prompt: user, Tier: tier})
	if err != nil {
		if errors.Is(err, llm.ErrEmptyResponse) {
			return "", ErrGenerationEmpty
		}
		return "", permanentIf(wrap(ErrGenerationFailed, err), err)
	}

	text = llm.CleanText(text)
	if text == "" {
		return "", ErrGenerationEmpty
	}
	return text, nil
}

// videoUpdated maps an owner-scoped update result to a step outcome.
func videoUpdated(ok bool, err error) (bool, error) {
	if err != nil {
		return false, wrap(ErrPersistence, err)
	}
	if !ok {
		return false, notFound()
	}
	return true, nil
}
