// Package pipeline defines the enrichment workflows and the dispatcher that executes them.
package pipeline

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"

	"github.com/jonathan/video-studio/internal/imagegen"
	"github.com/jonathan/video-studio/internal/llm"
	"github.com/jonathan/video-studio/internal/storage"
	"github.com/jonathan/video-studio/internal/types"
)

// VideoStore reads and writes videos scoped by owner. GetVideo returns nil, nil when the
// video is missing; update methods return false when no row matched.
type VideoStore interface {
	GetVideo(ctx context.Context, videoID, userID uuid.UUID) (*types.Video, error)
	UpdateVideoTitle(ctx context.Context, videoID, userID uuid.UUID, title string) (bool, error)
	UpdateVideoDescription(ctx context.Context, videoID, userID uuid.UUID, description string) (bool, error)
	ClearVideoThumbnail(ctx context.Context, videoID, userID uuid.UUID) (bool, error)
	UpdateVideoThumbnail(ctx context.Context, videoID, userID uuid.UUID, key, url string) (bool, error)
}

// TranscriptFetcher returns the plain-text transcript of a Mux text track.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, playbackID, trackID string) (string, error)
}

// ImageGenerator builds image URLs and downloads them.
type ImageGenerator interface {
	BuildURL(prompt string, seed int) string
	Fetch(ctx context.Context, url string) (*imagegen.Image, error)
}

// Deps are the collaborators the workflows call. A nil generator disables the workflows
// that need it; Ready reports which.
type Deps struct {
	Videos      VideoStore
	Transcripts TranscriptFetcher
	TitleLLM    llm.Client
	DescLLM     llm.Client
	Images      ImageGenerator
	Uploader    storage.Uploader
	// Seed returns the image seed. Defaults to a random value in [0, imagegen.MaxSeed).
	Seed   func() int
	Logger *slog.Logger

	// Reasons a collaborator is missing, reported by Ready.
	TitleErr, DescErr, ThumbnailErr error
}

// Ready returns an ErrNotConfigured error when workflow cannot run with these deps.
func (d *Deps) Ready(workflow string) error {
	var missing bool
	var reason error
	switch workflow {
	case types.WorkflowTitle:
		missing, reason = d.TitleLLM == nil || d.Transcripts == nil, d.TitleErr
	case types.WorkflowDescription:
		missing, reason = d.DescLLM == nil || d.Transcripts == nil, d.DescErr
	case types.WorkflowThumbnail:
		missing, reason = d.Images == nil || d.Uploader == nil, d.ThumbnailErr
	default:
		return fmt.Errorf("%w: unknown workflow %q", ErrNotConfigured, workflow)
	}
	if d.Videos == nil {
		return fmt.Errorf("%w: no video store", ErrNotConfigured)
	}
	if !missing {
		return nil
	}
	if reason != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotConfigured, workflow, reason)
	}
	return fmt.Errorf("%w: %s", ErrNotConfigured, workflow)
}

func (d *Deps) seed() int {
	if d.Seed != nil {
		return d.Seed()
	}
	n, err := rand.Int(rand.Reader, big.NewInt(imagegen.MaxSeed))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}
