package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/video-studio/internal/db"
	"github.com/jonathan/video-studio/internal/imagegen"
	"github.com/jonathan/video-studio/internal/llm"
	"github.com/jonathan/video-studio/internal/pipeline/steps"
	"github.com/jonathan/video-studio/internal/queue"
	"github.com/jonathan/video-studio/internal/storage"
	"github.com/jonathan/video-studio/internal/types"
)

// events records collaborator calls across fakes in order.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type fakeLLM struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	reqs  []llm.Request
}

func (f *fakeLLM) GenerateText(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	return f.text, f.err
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) set(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text, f.err = text, err
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTranscripts struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeTranscripts) Fetch(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.err
}

func (f *fakeTranscripts) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeImages struct {
	mu      sync.Mutex
	img     *imagegen.Image
	err     error
	prompts []string
	seeds   []int
	fetched []string
	events  *events
}

func (f *fakeImages) BuildURL(prompt string, seed int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.seeds = append(f.seeds, seed)
	f.events.add("build")
	return fmt.Sprintf("https://images.test/prompt/%s?seed=%d", url.PathEscape(prompt), seed)
}

func (f *fakeImages) Fetch(_ context.Context, rawURL string) (*imagegen.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rawURL)
	f.events.add("fetch")
	return f.img, f.err
}

type fakeUploader struct {
	mu        sync.Mutex
	uploads   []storage.File
	deleted   []string
	uploadErr error
	deleteErr error
	events    *events
}

func (f *fakeUploader) Upload(_ context.Context, file storage.File) (*storage.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events.add("upload")
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, file)
	key := storage.ObjectKey("thumbnails", file.Name)
	return &storage.Asset{Key: key, URL: "https://cdn.test/" + key}, nil
}

func (f *fakeUploader) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events.add("delete:" + key)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeObserver struct {
	mu       sync.Mutex
	finished []string
	enqueued int
}

func (o *fakeObserver) StepObserved(string, string, string, time.Duration) {}

func (o *fakeObserver) RunFinished(workflow, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, workflow+":"+status)
}

func (o *fakeObserver) RunEnqueued(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enqueued++
}

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

// harness wires every workflow to in-memory collaborators.
type harness struct {
	store       *db.Memory
	titleLLM    *fakeLLM
	descLLM     *fakeLLM
	transcripts *fakeTranscripts
	images      *fakeImages
	uploader    *fakeUploader
	events      *events
	observer    *fakeObserver
	deps        *Deps
	dispatcher  *Dispatcher
	queue       *queue.Memory
	user        uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ev := &events{}
	h := &harness{
		store:       db.NewMemory(),
		titleLLM:    &fakeLLM{text: "Generated Title"},
		descLLM:     &fakeLLM{text: "Generated description. #go"},
		transcripts: &fakeTranscripts{text: "hello world transcript"},
		images:      &fakeImages{img: &imagegen.Image{Data: pngBytes, ContentType: "image/png", Extension: "png"}, events: ev},
		uploader:    &fakeUploader{events: ev},
		events:      ev,
		observer:    &fakeObserver{},
		queue:       queue.NewMemory(16),
		user:        uuid.New(),
	}
	h.deps = &Deps{
		Videos:      h.store,
		Transcripts: h.transcripts,
		TitleLLM:    h.titleLLM,
		DescLLM:     h.descLLM,
		Images:      h.images,
		Uploader:    h.uploader,
		Seed:        func() int { return 42 },
	}
	registry, err := NewRegistry(h.deps)
	require.NoError(t, err)

	h.dispatcher = NewDispatcher(h.store, h.queue, registry, DispatcherConfig{
		Workers: 4,
		Retry: steps.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2,
		},
		Observer: h.observer,
		Ready:    h.deps.Ready,
	})
	t.Cleanup(func() { _ = h.queue.Close() })
	return h
}

// video creates a video for the harness user with a transcript track.
func (h *harness) video(t *testing.T) *types.Video {
	t.Helper()
	ctx := context.Background()
	v, err := h.store.CreateVideo(ctx, h.user, "")
	require.NoError(t, err)
	ok, err := h.store.SetVideoTrack(ctx, v.ID, h.user, "playback-1", "track-1")
	require.NoError(t, err)
	require.True(t, ok)
	v, err = h.store.GetVideo(ctx, v.ID, h.user)
	require.NoError(t, err)
	return v
}

func (h *harness) reload(t *testing.T, videoID uuid.UUID) *types.Video {
	t.Helper()
	v, err := h.store.GetVideo(context.Background(), videoID, h.user)
	require.NoError(t, err)
	require.NotNil(t, v)
	return v
}

// execute creates a run and drives it to a resting state.
func (h *harness) execute(t *testing.T, workflow string, in types.WorkflowInput) *types.WorkflowRun {
	t.Helper()
	ctx := context.Background()
	run, err := h.store.CreateRun(ctx, workflow, in)
	require.NoError(t, err)
	require.NoError(t, h.dispatcher.Execute(ctx, run.ID))
	return h.run(t, run.ID)
}

func (h *harness) run(t *testing.T, runID uuid.UUID) *types.WorkflowRun {
	t.Helper()
	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	return run
}

func (h *harness) stepRecords(t *testing.T, runID uuid.UUID) map[string]steps.Record {
	t.Helper()
	records, err := h.store.ListRunSteps(context.Background(), runID)
	require.NoError(t, err)
	out := make(map[string]steps.Record, len(records))
	for _, rec := range records {
		out[rec.Step] = rec
	}
	return out
}
