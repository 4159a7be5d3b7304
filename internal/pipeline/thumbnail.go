package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonathan/video-studio/internal/imagegen"
	"github.com/jonathan/video-studio/internal/pipeline/steps"
	"github.com/jonathan/video-studio/internal/prompts"
	"github.com/jonathan/video-studio/internal/storage"
	"github.com/jonathan/video-studio/internal/types"
)

// ThumbnailRequest is the generate-thumbnail result: what to fetch, not the bytes.
type ThumbnailRequest struct {
	Prompt string `json:"prompt"`
	Seed   int    `json:"seed"`
	URL    string `json:"url"`
}

// runThumbnail: get-video, cleanup-thumbnail, generate-thumbnail, upload-thumbnail, update-video.
// A cleanup failure aborts the run; the old asset must be gone before a new one is stored.
func (d *Deps) runThumbnail(ctx context.Context, sc *steps.Context, raw json.RawMessage) error {
	in, err := decodeInput(raw, types.WorkflowThumbnail)
	if err != nil {
		return err
	}

	video, err := d.getVideo(ctx, sc, in)
	if err != nil {
		return err
	}

	_, err = steps.Run(ctx, sc, StepCleanupThumbnail, func(ctx context.Context) (bool, error) {
		return d.cleanupThumbnail(ctx, video)
	})
	if err != nil {
		return err
	}

	req, err := steps.Run(ctx, sc, StepGenerateThumbnail, func(ctx context.Context) (ThumbnailRequest, error) {
		prompt, err := prompts.Render(prompts.ThumbnailImage, map[string]string{"Prompt": in.Prompt})
		if err != nil {
			return ThumbnailRequest{}, steps.Permanent(err)
		}
		seed := d.seed()
		return ThumbnailRequest{Prompt: prompt, Seed: seed, URL: d.Images.BuildURL(prompt, seed)}, nil
	})
	if err != nil {
		return err
	}

	asset, err := steps.Run(ctx, sc, StepUploadThumbnail, func(ctx context.Context) (storage.Asset, error) {
		return d.uploadThumbnail(ctx, req.URL)
	})
	if err != nil {
		return err
	}

	_, err = steps.Run(ctx, sc, StepUpdateVideo, func(ctx context.Context) (bool, error) {
		return videoUpdated(d.Videos.UpdateVideoThumbnail(ctx, in.VideoID, in.UserID, asset.Key, asset.URL))
	})
	if err != nil {
		return err
	}

	sc.Logger().InfoContext(ctx, "video thumbnail updated", "video_id", in.VideoID, "key", asset.Key)
	return nil
}

// cleanupThumbnail deletes the current asset, then clears its reference. Reports whether
// anything was removed.
func (d *Deps) cleanupThumbnail(ctx context.Context, video types.Video) (bool, error) {
	if video.ThumbnailKey == nil || *video.ThumbnailKey == "" {
		return false, nil
	}
	if err := d.Uploader.Delete(ctx, *video.ThumbnailKey); err != nil {
		return false, wrap(ErrUpstreamUnavailable, fmt.Errorf("failed to delete thumbnail %s: %w", *video.ThumbnailKey, err))
	}
	return videoUpdated(d.Videos.ClearVideoThumbnail(ctx, video.ID, video.UserID))
}

func (d *Deps) uploadThumbnail(ctx context.Context, url string) (storage.Asset, error) {
	img, err := d.Images.Fetch(ctx, url)
	if err != nil {
		if errors.Is(err, imagegen.ErrNoData) || errors.Is(err, imagegen.ErrNotImage) {
			return storage.Asset{}, wrap(ErrUploadFailed, err)
		}
		return storage.Asset{}, permanentIf(wrap(ErrGenerationFailed, err), err)
	}

	asset, err := d.Uploader.Upload(ctx, storage.File{
		Name:        "thumbnail." + img.Extension,
		ContentType: img.ContentType,
		Data:        img.Data,
	})
	if err != nil {
		return storage.Asset{}, wrap(ErrUploadFailed, err)
	}
	return *asset, nil
}
