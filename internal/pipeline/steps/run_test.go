package steps

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky upstream")

type payload struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
	Count int      `json:"count"`
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) StepObserved(_, step, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, step+":"+outcome)
}

func testWorkflow(stepNames ...string) Workflow {
	return Workflow{
		Name:  "test",
		Steps: stepNames,
		Handler: func(context.Context, *Context, json.RawMessage) error {
			return nil
		},
	}
}

// newTestContext returns a context whose backoff sleeps are recorded instead of waited.
func newTestContext(runID uuid.UUID, store Store, stepNames ...string) (*Context, *[]time.Duration) {
	sc := NewContext(runID, testWorkflow(stepNames...), store)
	delays := &[]time.Duration{}
	sc.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return sc, delays
}

func TestRun_PersistsResult(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runID := uuid.New()
	sc, _ := newTestContext(runID, store, "get-video")

	out, err := Run(ctx, sc, "get-video", func(context.Context) (payload, error) {
		return payload{Title: "hello", Tags: []string{"a"}, Count: 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Title)

	rec, err := store.LoadStep(ctx, runID, "get-video")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.JSONEq(t, `{"title":"hello","tags":["a"],"count":2}`, string(rec.Output))
	assert.NotNil(t, rec.CompletedAt)
}

func TestRun_ReplaysCompletedStep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runID := uuid.New()

	first, _ := newTestContext(runID, store, "generate-title")
	original, err := Run(ctx, first, "generate-title", func(context.Context) (payload, error) {
		return payload{Title: "first", Tags: []string{"x", "y"}, Count: 7}, nil
	})
	require.NoError(t, err)

	calls := 0
	resumed, _ := newTestContext(runID, store, "generate-title")
	replayed, err := Run(ctx, resumed, "generate-title", func(context.Context) (payload, error) {
		calls++
		return payload{Title: "second"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, calls, "completed step must not execute again")
	assert.Equal(t, original, replayed)
}

func TestRun_ReplayIsPerRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a, _ := newTestContext(uuid.New(), store, "s")
	_, err := Run(ctx, a, "s", func(context.Context) (string, error) { return "a", nil })
	require.NoError(t, err)

	b, _ := newTestContext(uuid.New(), store, "s")
	out, err := Run(ctx, b, "s", func(context.Context) (string, error) { return "b", nil })
	require.NoError(t, err)
	assert.Equal(t, "b", out)
}

func TestRun_RetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runID := uuid.New()
	sc, delays := newTestContext(runID, store, "get-transcript")

	calls := 0
	out, err := Run(ctx, sc, "get-transcript", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errFlaky
		}
		return "transcript", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "transcript", out)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)

	rec, _ := store.LoadStep(ctx, runID, "get-transcript")
	assert.Equal(t, 3, rec.Attempts)
}

func TestRun_ExhaustedRetriesRecordFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runID := uuid.New()
	obs := &recordingObserver{}
	sc, _ := newTestContext(runID, store, "generate-title")
	sc.observer = obs

	calls := 0
	_, err := Run(ctx, sc, "generate-title", func(context.Context) (string, error) {
		calls++
		return "", errFlaky
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errFlaky)

	var stepErr *Error
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "generate-title", stepErr.Step)
	assert.Equal(t, 3, stepErr.Attempts)

	rec, _ := store.LoadStep(ctx, runID, "generate-title")
	require.NotNil(t, rec)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "flaky upstream", rec.Error)

	assert.Equal(t, []string{
		"generate-title:retried", "generate-title:retried", "generate-title:failed",
	}, obs.outcomes)
}

func TestRun_PermanentErrorNotRetried(t *testing.T) {
	ctx := context.Background()
	sc, delays := newTestContext(uuid.New(), NewMemoryStore(), "get-video")
	notFound := errors.New("not found")

	calls := 0
	_, err := Run(ctx, sc, "get-video", func(context.Context) (int, error) {
		calls++
		return 0, Permanent(notFound)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
	assert.ErrorIs(t, err, notFound)
	assert.True(t, IsPermanent(err))
}

func TestRun_FailedStepExecutesAgainOnResume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runID := uuid.New()

	first, _ := newTestContext(runID, store, "upload")
	_, err := Run(ctx, first, "upload", func(context.Context) (string, error) {
		return "", Permanent(errFlaky)
	})
	require.Error(t, err)

	second, _ := newTestContext(runID, store, "upload")
	out, err := Run(ctx, second, "upload", func(context.Context) (string, error) {
		return "uploaded", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "uploaded", out)

	rec, _ := store.LoadStep(ctx, runID, "upload")
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestRun_DuplicateStepRejected(t *testing.T) {
	ctx := context.Background()
	sc, _ := newTestContext(uuid.New(), NewMemoryStore())

	_, err := Run(ctx, sc, "update-video", func(context.Context) (bool, error) { return true, nil })
	require.NoError(t, err)

	_, err = Run(ctx, sc, "update-video", func(context.Context) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, ErrDuplicateStep)
}

func TestRun_EnforcesDeclaredOrder(t *testing.T) {
	ctx := context.Background()
	sc, _ := newTestContext(uuid.New(), NewMemoryStore(), "get-video", "get-transcript")

	_, err := Run(ctx, sc, "get-transcript", func(context.Context) (string, error) { return "", nil })
	var orderErr *OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, "get-video", orderErr.Expected)

	_, err = Run(ctx, sc, "get-video", func(context.Context) (string, error) { return "", nil })
	require.NoError(t, err)
	_, err = Run(ctx, sc, "get-transcript", func(context.Context) (string, error) { return "", nil })
	require.NoError(t, err)

	_, err = Run(ctx, sc, "extra", func(context.Context) (string, error) { return "", nil })
	require.ErrorAs(t, err, &orderErr)
	assert.Contains(t, err.Error(), "not declared")
}

func TestRun_CancelDuringBackoffLeavesNoFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	runID := uuid.New()
	sc, _ := newTestContext(runID, store, "generate-description")
	sc.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := Run(ctx, sc, "generate-description", func(context.Context) (string, error) {
		return "", errFlaky
	})
	assert.ErrorIs(t, err, context.Canceled)

	rec, _ := store.LoadStep(context.Background(), runID, "generate-description")
	assert.Nil(t, rec, "canceled steps stay unrecorded so the run resumes")
}

type flakyStore struct {
	*MemoryStore
	saveFailures int
	loadErr      error
}

func (s *flakyStore) LoadStep(ctx context.Context, runID uuid.UUID, step string) (*Record, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.MemoryStore.LoadStep(ctx, runID, step)
}

func (s *flakyStore) SaveStep(ctx context.Context, rec *Record) error {
	if s.saveFailures > 0 {
		s.saveFailures--
		return errors.New("connection reset")
	}
	return s.MemoryStore.SaveStep(ctx, rec)
}

func TestRun_PersistFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore(), saveFailures: 1}
	runID := uuid.New()
	sc, _ := newTestContext(runID, store, "generate-thumbnail")

	calls := 0
	out, err := Run(ctx, sc, "generate-thumbnail", func(context.Context) (string, error) {
		calls++
		return "https://img/1.png", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.png", out)
	assert.Equal(t, 2, calls)
}

func TestRun_LoadErrorStopsStep(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), loadErr: errors.New("db down")}
	sc, _ := newTestContext(uuid.New(), store, "get-video")

	calls := 0
	_, err := Run(context.Background(), sc, "get-video", func(context.Context) (string, error) {
		calls++
		return "", nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load step get-video")
	assert.Equal(t, 0, calls)
}

func TestRun_UnencodableResultIsPermanent(t *testing.T) {
	sc, _ := newTestContext(uuid.New(), NewMemoryStore(), "bad")

	calls := 0
	_, err := Run(context.Background(), sc, "bad", func(context.Context) (chan int, error) {
		calls++
		return make(chan int), nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "failed to encode step result")
}

func TestRun_EmptyStructRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runID := uuid.New()

	sc, _ := newTestContext(runID, store, "update-video")
	_, err := Run(ctx, sc, "update-video", func(context.Context) (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, err)

	resumed, _ := newTestContext(runID, store, "update-video")
	_, err = Run(ctx, resumed, "update-video", func(context.Context) (struct{}, error) {
		t.Fatal("must replay")
		return struct{}{}, nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_ListStepsKeepsOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runID := uuid.New()
	sc, _ := newTestContext(runID, store, "a", "b", "c")

	for _, name := range []string{"a", "b", "c"} {
		_, err := Run(ctx, sc, name, func(context.Context) (string, error) { return name, nil })
		require.NoError(t, err)
	}

	records, err := store.ListSteps(ctx, runID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].Step)
	assert.Equal(t, "c", records[2].Step)
}
