package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/video-studio/internal/types"
)

// -----------------------------------------------------------------------------
// Video Methods
// -----------------------------------------------------------------------------
// Every read and write is scoped by (id, user_id). Update methods report whether a
// row matched; false means the video does not exist for that owner.

const videoColumns = `id, user_id, title, description, mux_playback_id, mux_track_id,
	thumbnail_key, thumbnail_url, created_at, updated_at`

func scanVideo(row pgx.Row) (*types.Video, error) {
	var v types.Video
	err := row.Scan(&v.ID, &v.UserID, &v.Title, &v.Description, &v.MuxPlaybackID, &v.MuxTrackID,
		&v.ThumbnailKey, &v.ThumbnailURL, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateVideo inserts a video owned by userID. An empty title uses the default.
func (db *DB) CreateVideo(ctx context.Context, userID uuid.UUID, title string) (*types.Video, error) {
	if title == "" {
		title = types.DefaultVideoTitle
	}
	v, err := scanVideo(db.pool.QueryRow(ctx,
		`INSERT INTO videos (user_id, title) VALUES ($1, $2) RETURNING `+videoColumns,
		userID, title,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create video: %w", err)
	}
	return v, nil
}

// GetVideo returns the video, or nil if it does not exist for userID.
func (db *DB) GetVideo(ctx context.Context, videoID, userID uuid.UUID) (*types.Video, error) {
	v, err := scanVideo(db.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE id = $1 AND user_id = $2`,
		videoID, userID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return v, nil
}

// ListVideos returns the user's videos, newest first.
func (db *DB) ListVideos(ctx context.Context, userID uuid.UUID) ([]types.Video, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	videos := []types.Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, *v)
	}
	return videos, rows.Err()
}

func (db *DB) updateVideo(ctx context.Context, what, query string, args ...any) (bool, error) {
	tag, err := db.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update video %s: %w", what, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateVideoTitle sets only title and updated_at.
func (db *DB) UpdateVideoTitle(ctx context.Context, videoID, userID uuid.UUID, title string) (bool, error) {
	return db.updateVideo(ctx, "title",
		`UPDATE videos SET title = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
		videoID, userID, title)
}

// UpdateVideoDescription sets only description and updated_at.
func (db *DB) UpdateVideoDescription(ctx context.Context, videoID, userID uuid.UUID, description string) (bool, error) {
	return db.updateVideo(ctx, "description",
		`UPDATE videos SET description = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
		videoID, userID, description)
}

// ClearVideoThumbnail nulls thumbnail_key and thumbnail_url.
func (db *DB) ClearVideoThumbnail(ctx context.Context, videoID, userID uuid.UUID) (bool, error) {
	return db.updateVideo(ctx, "thumbnail",
		`UPDATE videos SET thumbnail_key = NULL, thumbnail_url = NULL, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		videoID, userID)
}

// UpdateVideoThumbnail sets thumbnail_key and thumbnail_url.
func (db *DB) UpdateVideoThumbnail(ctx context.Context, videoID, userID uuid.UUID, key, url string) (bool, error) {
	return db.updateVideo(ctx, "thumbnail",
		`UPDATE videos SET thumbnail_key = $3, thumbnail_url = $4, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		videoID, userID, key, url)
}

// SetVideoTrack records the Mux playback and transcript track references.
func (db *DB) SetVideoTrack(ctx context.Context, videoID, userID uuid.UUID, playbackID, trackID string) (bool, error) {
	return db.updateVideo(ctx, "track",
		`UPDATE videos SET mux_playback_id = $3, mux_track_id = $4, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		videoID, userID, playbackID, trackID)
}
