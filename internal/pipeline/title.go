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

// TitleTranscriptLimit caps the transcript runes sent to the title generator.
const TitleTranscriptLimit = 2000

// runTitle: get-video, get-transcript, generate-title, update-video.
func (d *Deps) runTitle(ctx context.Context, sc *steps.Context, raw json.RawMessage) error {
	in, err := decodeInput(raw, types.WorkflowTitle)
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

	title, err := steps.Run(ctx, sc, StepGenerateTitle, func(ctx context.Context) (string, error) {
		return generateText(ctx, d.TitleLLM, prompts.TitleSystem, prompts.TitleUser,
			map[string]string{"Transcript": transcript.Truncate(text, TitleTranscriptLimit)},
			llm.TierLite)
	})
	if err != nil {
		return err
	}

	_, err = steps.Run(ctx, sc, StepUpdateVideo, func(ctx context.Context) (bool, error) {
		return videoUpdated(d.Videos.UpdateVideoTitle(ctx, in.VideoID, in.UserID, title))
	})
	if err != nil {
		return err
	}

	sc.Logger().InfoContext(ctx, "video title updated", "video_id", in.VideoID, "title", title)
	return nil
}
