// Package types provides type definitions for structured data shared across the video studio.
package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultVideoTitle is the title a freshly created video carries until a title is generated.
const DefaultVideoTitle = "Untitled"

// Video is a user-owned video record. Mux references are read-only here.
type Video struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Title         string    `json:"title"`
	Description   *string   `json:"description"`
	MuxPlaybackID *string   `json:"mux_playback_id"`
	MuxTrackID    *string   `json:"mux_track_id"`
	ThumbnailKey  *string   `json:"thumbnail_key"`
	ThumbnailURL  *string   `json:"thumbnail_url"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasTranscriptTrack reports whether both Mux references needed to read a transcript are present.
func (v *Video) HasTranscriptTrack() bool {
	return v.MuxPlaybackID != nil && *v.MuxPlaybackID != "" &&
		v.MuxTrackID != nil && *v.MuxTrackID != ""
}

// CreateVideoRequest is the optional body of a video creation request.
type CreateVideoRequest struct {
	Title string `json:"title,omitempty" validate:"omitempty,max=100"`
}

// Validate validates the CreateVideoRequest using the validator.
func (r *CreateVideoRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// VideoList is the response body for listing a user's videos.
type VideoList struct {
	Videos []Video `json:"videos"`
	Count  int     `json:"count"`
}
