package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/video-studio/internal/pipeline/steps"
	"github.com/jonathan/video-studio/internal/types"
)

// Memory is an in-process store with the same methods as DB. It backs tests and the
// development mode that runs without PostgreSQL.
type Memory struct {
	mu     sync.Mutex
	videos map[uuid.UUID]types.Video
	runs   map[uuid.UUID]types.WorkflowRun
	steps  *steps.MemoryStore
	now    func() time.Time
}

var _ steps.Store = (*Memory)(nil)

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		videos: make(map[uuid.UUID]types.Video),
		runs:   make(map[uuid.UUID]types.WorkflowRun),
		steps:  steps.NewMemoryStore(),
		now:    time.Now,
	}
}

func (m *Memory) Close() {}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) CreateVideo(_ context.Context, userID uuid.UUID, title string) (*types.Video, error) {
	if title == "" {
		title = types.DefaultVideoTitle
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	v := types.Video{ID: uuid.New(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	m.videos[v.ID] = v
	return &v, nil
}

func (m *Memory) GetVideo(_ context.Context, videoID, userID uuid.UUID) (*types.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[videoID]
	if !ok || v.UserID != userID {
		return nil, nil
	}
	return &v, nil
}

func (m *Memory) ListVideos(_ context.Context, userID uuid.UUID) ([]types.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	videos := []types.Video{}
	for _, v := range m.videos {
		if v.UserID == userID {
			videos = append(videos, v)
		}
	}
	sort.Slice(videos, func(i, j int) bool { return videos[i].CreatedAt.After(videos[j].CreatedAt) })
	return videos, nil
}

// updateVideo applies fn to the owner's video. Only the fields fn touches change.
func (m *Memory) updateVideo(videoID, userID uuid.UUID, fn func(*types.Video)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[videoID]
	if !ok || v.UserID != userID {
		return false, nil
	}
	fn(&v)
	v.UpdatedAt = m.now()
	m.videos[videoID] = v
	return true, nil
}

func (m *Memory) UpdateVideoTitle(_ context.Context, videoID, userID uuid.UUID, title string) (bool, error) {
	return m.updateVideo(videoID, userID, func(v *types.Video) { v.Title = title })
}

func (m *Memory) UpdateVideoDescription(_ context.Context, videoID, userID uuid.UUID, description string) (bool, error) {
	return m.updateVideo(videoID, userID, func(v *types.Video) { v.Description = &description })
}

func (m *Memory) ClearVideoThumbnail(_ context.Context, videoID, userID uuid.UUID) (bool, error) {
	return m.updateVideo(videoID, userID, func(v *types.Video) {
		v.ThumbnailKey = nil
		v.ThumbnailURL = nil
	})
}

func (m *Memory) UpdateVideoThumbnail(_ context.Context, videoID, userID uuid.UUID, key, url string) (bool, error) {
	return m.updateVideo(videoID, userID, func(v *types.Video) {
		v.ThumbnailKey = &key
		v.ThumbnailURL = &url
	})
}

func (m *Memory) SetVideoTrack(_ context.Context, videoID, userID uuid.UUID, playbackID, trackID string) (bool, error) {
	return m.updateVideo(videoID, userID, func(v *types.Video) {
		v.MuxPlaybackID = &playbackID
		v.MuxTrackID = &trackID
	})
}

func (m *Memory) CreateRun(_ context.Context, workflow string, input types.WorkflowInput) (*types.WorkflowRun, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run input: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	r := types.WorkflowRun{
		ID:        uuid.New(),
		Workflow:  workflow,
		UserID:    input.UserID,
		VideoID:   input.VideoID,
		Input:     payload,
		Status:    types.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.runs[r.ID] = r
	return &r, nil
}

func (m *Memory) GetRun(_ context.Context, runID uuid.UUID) (*types.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) listRuns(match func(types.WorkflowRun) bool, newestFirst bool) []types.WorkflowRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := []types.WorkflowRun{}
	for _, r := range m.runs {
		if match(r) {
			runs = append(runs, r)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if newestFirst {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs
}

func (m *Memory) ListRunsByVideo(_ context.Context, videoID, userID uuid.UUID) ([]types.WorkflowRun, error) {
	return m.listRuns(func(r types.WorkflowRun) bool {
		return r.VideoID == videoID && r.UserID == userID
	}, true), nil
}

func (m *Memory) ListUnfinishedRuns(context.Context) ([]types.WorkflowRun, error) {
	return m.listRuns(func(r types.WorkflowRun) bool {
		return r.Status == types.RunStatusPending || r.Status == types.RunStatusRunning
	}, false), nil
}

func (m *Memory) updateRun(runID uuid.UUID, fn func(*types.WorkflowRun) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return false, fmt.Errorf("run not found: %s", runID)
	}
	if !fn(&r) {
		return false, nil
	}
	r.UpdatedAt = m.now()
	m.runs[runID] = r
	return true, nil
}

func (m *Memory) StartRun(_ context.Context, runID uuid.UUID) error {
	_, err := m.updateRun(runID, func(r *types.WorkflowRun) bool {
		r.Status = types.RunStatusRunning
		r.Attempts++
		r.ErrorMessage = nil
		return true
	})
	return err
}

func (m *Memory) CompleteRun(_ context.Context, runID uuid.UUID) error {
	_, err := m.updateRun(runID, func(r *types.WorkflowRun) bool {
		now := m.now()
		r.Status = types.RunStatusCompleted
		r.CompletedAt = &now
		return true
	})
	return err
}

func (m *Memory) FailRun(_ context.Context, runID uuid.UUID, message string) error {
	_, err := m.updateRun(runID, func(r *types.WorkflowRun) bool {
		now := m.now()
		r.Status = types.RunStatusFailed
		r.ErrorMessage = &message
		r.CompletedAt = &now
		return true
	})
	return err
}

func (m *Memory) ResetRun(_ context.Context, runID uuid.UUID) (bool, error) {
	m.mu.Lock()
	_, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return m.updateRun(runID, func(r *types.WorkflowRun) bool {
		if r.Status != types.RunStatusFailed {
			return false
		}
		r.Status = types.RunStatusPending
		r.ErrorMessage = nil
		r.CompletedAt = nil
		return true
	})
}

func (m *Memory) LoadStep(ctx context.Context, runID uuid.UUID, step string) (*steps.Record, error) {
	return m.steps.LoadStep(ctx, runID, step)
}

// SaveStep records the step and moves the run's current_step.
func (m *Memory) SaveStep(ctx context.Context, rec *steps.Record) error {
	if err := m.steps.SaveStep(ctx, rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[rec.RunID]; ok {
		step := rec.Step
		r.CurrentStep = &step
		r.UpdatedAt = m.now()
		m.runs[rec.RunID] = r
	}
	return nil
}

func (m *Memory) ListRunSteps(ctx context.Context, runID uuid.UUID) ([]steps.Record, error) {
	return m.steps.ListSteps(ctx, runID)
}
