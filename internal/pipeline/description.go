package pipeline

import (
	"context"
	"encoding/json"

	"github.com/jonathan/video-studio/internal/llm"
	"github.com/jonathan/video-studio/internal/pipeline/steps"
	"github.com/jonathan/video-studio/internal/prompts"
	"github.com/jonathan/video-studio/internal/transcript"
	"github.com/jonathan/video-studio/internal/types"
)

// DescriptionTranscriptLimit caps the transcript runes sent to the description generator.
const DescriptionTranscriptLimit = 3000

func (d *Deps) runDescription(ctx context.Context, sc *steps.Context, raw json.RawMessage) error {
	in, err := decodeInput(raw, types.WorkflowDescription)
	if err != nil {
		return err
	}

	video, err := d.getVideo(ctx, sc, in)
	if err != nil {
		return err
	}

	text, err := d.getTranscript(ctx, sc, video)
	if err != nil {
		return err
	}

	// The title comes from the get-video snapshot, so a replayed run prompts with the
	// same title it saw the first time.
	description, err := steps.Run(ctx, sc, StepGenerateDescription, func(ctx context.Context) (string, error) {
		return generateText(ctx, d.DescLLM, prompts.DescriptionSystem, prompts.DescriptionUser,
			map[string]string{
				"Title":      video.Title,
				"Transcript": transcript.Truncate(text, DescriptionTranscriptLimit),
			},
			llm.TierStandard)
	})
	if err != nil {
		return err
	}

	_, err = steps.Run(ctx, sc, StepUpdateVideo, func(ctx context.Context) (bool, error) {
		return videoUpdated(d.Videos.UpdateVideoDescription(ctx, in.VideoID, in.UserID, description))
	})
	if err != nil {
		return err
	}

	sc.Logger().InfoContext(ctx, "video description updated", "video_id", in.VideoID, "length", len(description))
	return nil
}
