package db

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/video-studio/internal/pipeline/steps"
	"github.com/jonathan/video-studio/internal/types"
)

func TestMemory_VideoOwnership(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()

	v, err := m.CreateVideo(ctx, owner, "")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultVideoTitle, v.Title)

	got, err := m.GetVideo(ctx, v.ID, other)
	require.NoError(t, err)
	assert.Nil(t, got, "another user's video is invisible")

	ok, err := m.UpdateVideoTitle(ctx, v.ID, other, "Hijacked")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.UpdateVideoTitle(ctx, v.ID, owner, "Cooking Pasta")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = m.GetVideo(ctx, v.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "Cooking Pasta", got.Title)

	list, err := m.ListVideos(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemory_FieldDisjointUpdates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	owner := uuid.New()
	v, err := m.CreateVideo(ctx, owner, "Original")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); _, _ = m.UpdateVideoTitle(ctx, v.ID, owner, "New Title") }()
	go func() { defer wg.Done(); _, _ = m.UpdateVideoDescription(ctx, v.ID, owner, "New description") }()
	go func() { defer wg.Done(); _, _ = m.UpdateVideoThumbnail(ctx, v.ID, owner, "k1", "https://cdn/k1") }()
	wg.Wait()

	got, err := m.GetVideo(ctx, v.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "New Title", got.Title)
	require.NotNil(t, got.Description)
	assert.Equal(t, "New description", *got.Description)
	require.NotNil(t, got.ThumbnailKey)
	assert.Equal(t, "k1", *got.ThumbnailKey)

	ok, err := m.ClearVideoThumbnail(ctx, v.ID, owner)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ = m.GetVideo(ctx, v.ID, owner)
	assert.Nil(t, got.ThumbnailKey)
	assert.Nil(t, got.ThumbnailURL)
	assert.Equal(t, "New Title", got.Title)
}

// videoWriter is the video surface shared by Memory and DB.
type videoWriter interface {
	CreateVideo(ctx context.Context, userID uuid.UUID, title string) (*types.Video, error)
	GetVideo(ctx context.Context, videoID, userID uuid.UUID) (*types.Video, error)
	ListVideos(ctx context.Context, userID uuid.UUID) ([]types.Video, error)
	UpdateVideoTitle(ctx context.Context, videoID, userID uuid.UUID, title string) (bool, error)
	UpdateVideoDescription(ctx context.Context, videoID, userID uuid.UUID, description string) (bool, error)
	UpdateVideoThumbnail(ctx context.Context, videoID, userID uuid.UUID, key, url string) (bool, error)
}

// testRepeatedUpdatesConverge applies every field update twice with the same values and
// expects the same row apart from updated_at.
func testRepeatedUpdatesConverge(t *testing.T, store videoWriter) {
	t.Helper()
	ctx := context.Background()
	owner := uuid.New()
	v, err := store.CreateVideo(ctx, owner, "")
	require.NoError(t, err)

	apply := func() types.Video {
		updates := []func() (bool, error){
			func() (bool, error) { return store.UpdateVideoTitle(ctx, v.ID, owner, "Amazing Hello World Demo") },
			func() (bool, error) { return store.UpdateVideoDescription(ctx, v.ID, owner, "A walkthrough. #go") },
			func() (bool, error) {
				return store.UpdateVideoThumbnail(ctx, v.ID, owner, "thumbnails/new.png", "https://cdn.test/new.png")
			},
		}
		for _, update := range updates {
			ok, err := update()
			require.NoError(t, err)
			require.True(t, ok)
		}
		got, err := store.GetVideo(ctx, v.ID, owner)
		require.NoError(t, err)
		require.NotNil(t, got)
		return *got
	}

	first := apply()
	second := apply()

	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
	first.UpdatedAt, second.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, first, second)
	assert.Equal(t, "Amazing Hello World Demo", second.Title)

	list, err := store.ListVideos(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemory_RepeatedUpdatesConverge(t *testing.T) {
	testRepeatedUpdatesConverge(t, NewMemory())
}

func TestMemory_RunLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	input := types.WorkflowInput{UserID: uuid.New(), VideoID: uuid.New()}

	run, err := m.CreateRun(ctx, types.WorkflowTitle, input)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusPending, run.Status)

	decoded, err := run.DecodeInput()
	require.NoError(t, err)
	assert.Equal(t, input, decoded)

	unfinished, err := m.ListUnfinishedRuns(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)

	require.NoError(t, m.StartRun(ctx, run.ID))
	require.NoError(t, m.SaveStep(ctx, &steps.Record{
		RunID: run.ID, Step: "get-video", Status: steps.StatusCompleted,
		Output: json.RawMessage(`{}`), Attempts: 1, StartedAt: time.Now(),
	}))

	got, err := m.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusRunning, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.CurrentStep)
	assert.Equal(t, "get-video", *got.CurrentStep)

	ok, err := m.ResetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, ok, "only failed runs reset")

	require.NoError(t, m.FailRun(ctx, run.ID, "boom"))
	got, _ = m.GetRun(ctx, run.ID)
	assert.Equal(t, types.RunStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "boom", *got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)

	ok, err = m.ResetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ = m.GetRun(ctx, run.ID)
	assert.Equal(t, types.RunStatusPending, got.Status)
	assert.Nil(t, got.ErrorMessage)

	records, err := m.ListRunSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "get-video", records[0].Step)

	require.NoError(t, m.CompleteRun(ctx, run.ID))
	unfinished, _ = m.ListUnfinishedRuns(ctx)
	assert.Empty(t, unfinished)

	ok, err = m.ResetRun(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}
