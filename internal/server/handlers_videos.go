package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/jonathan/video-studio/internal/imagegen"
	"github.com/jonathan/video-studio/internal/pipeline"
	"github.com/jonathan/video-studio/internal/storage"
	"github.com/jonathan/video-studio/internal/types"
)

// handleCreateVideo creates a placeholder video owned by the caller. The body is optional.
func (s *Server) handleCreateVideo(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}

	var req types.CreateVideoRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorFor(w, r, err)
		return
	}

	video, err := s.deps.Store.CreateVideo(r.Context(), userID, req.Title)
	if err != nil {
		s.errorFor(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, video)
}

// handleListVideos lists the caller's videos, newest first.
func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}

	videos, err := s.deps.Store.ListVideos(r.Context(), userID)
	if err != nil {
		s.errorFor(w, r, err)
		return
	}
	if videos == nil {
		videos = []types.Video{}
	}
	s.jsonResponse(w, http.StatusOK, types.VideoList{Videos: videos, Count: len(videos)})
}

// handleGetVideo returns one of the caller's videos. Videos of other users are not found.
func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	videoID, err := pathUUID(r, "id")
	if err != nil {
		s.errorFor(w, r, err)
		return
	}

	video, err := s.deps.Store.GetVideo(r.Context(), videoID, userID)
	if err != nil {
		s.errorFor(w, r, err)
		return
	}
	if video == nil {
		s.errorFor(w, r, pipeline.ErrNotFound)
		return
	}
	s.jsonResponse(w, http.StatusOK, video)
}

// handleUploadThumbnail stores a user-supplied thumbnail, then deletes the asset it replaces.
// The image is the raw body or the "file" field of a multipart form.
func (s *Server) handleUploadThumbnail(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if s.deps.Uploader == nil {
		s.errorFor(w, r, fmt.Errorf("%w: no asset storage", pipeline.ErrNotConfigured))
		return
	}
	videoID, err := pathUUID(r, "id")
	if err != nil {
		s.errorFor(w, r, err)
		return
	}

	data, err := s.readUpload(w, r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	image, err := imagegen.Sniff(data)
	if err != nil {
		s.errorFor(w, r, err)
		return
	}

	ctx := r.Context()
	video, err := s.deps.Store.GetVideo(ctx, videoID, userID)
	if err != nil {
		s.errorFor(w, r, err)
		return
	}
	if video == nil {
		s.errorFor(w, r, pipeline.ErrNotFound)
		return
	}

	asset, err := s.deps.Uploader.Upload(ctx, storage.File{
		Name:        "thumbnail." + image.Extension,
		ContentType: image.ContentType,
		Data:        image.Data,
	})
	if err != nil {
		s.errorFor(w, r, fmt.Errorf("%w: %w", pipeline.ErrUploadFailed, err))
		return
	}

	updated, err := s.deps.Store.UpdateVideoThumbnail(ctx, videoID, userID, asset.Key, asset.URL)
	if err != nil || !updated {
		s.discardAsset(r, asset.Key)
		if err == nil {
			err = pipeline.ErrNotFound
		}
		s.errorFor(w, r, err)
		return
	}

	if video.ThumbnailKey != nil && *video.ThumbnailKey != "" && *video.ThumbnailKey != asset.Key {
		s.discardAsset(r, *video.ThumbnailKey)
	}

	video.ThumbnailKey = &asset.Key
	video.ThumbnailURL = &asset.URL
	if fresh, err := s.deps.Store.GetVideo(ctx, videoID, userID); err == nil && fresh != nil {
		video = fresh
	}
	s.jsonResponse(w, http.StatusOK, video)
}

// readUpload reads the image bytes from the request, bounded by MaxUploadBytes.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}
		return data, nil
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing file field: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

// discardAsset deletes an asset that is no longer referenced. Failures only leave an orphan.
func (s *Server) discardAsset(r *http.Request, key string) {
	if err := s.deps.Uploader.Delete(r.Context(), key); err != nil {
		s.logger.WarnContext(r.Context(), "failed to delete replaced thumbnail", "key", key, "error", err)
	}
}
