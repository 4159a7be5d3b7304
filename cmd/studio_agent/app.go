package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jonathan/video-studio/internal/config"
	"github.com/jonathan/video-studio/internal/db"
	"github.com/jonathan/video-studio/internal/imagegen"
	"github.com/jonathan/video-studio/internal/llm"
	"github.com/jonathan/video-studio/internal/observability"
	"github.com/jonathan/video-studio/internal/pipeline"
	"github.com/jonathan/video-studio/internal/pipeline/steps"
	"github.com/jonathan/video-studio/internal/queue"
	"github.com/jonathan/video-studio/internal/server"
	"github.com/jonathan/video-studio/internal/storage"
	"github.com/jonathan/video-studio/internal/transcript"
	"github.com/jonathan/video-studio/internal/types"
)

// recordStore is everything the commands need from db.DB or db.Memory.
type recordStore interface {
	server.Store
	pipeline.RunStore
	pipeline.VideoStore
	SetVideoTrack(ctx context.Context, videoID, userID uuid.UUID, playbackID, trackID string) (bool, error)
	Close()
}

// app holds the wired collaborators of one process.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *observability.Metrics
	store      recordStore
	queue      queue.Queue
	deps       *pipeline.Deps
	registry   *steps.Registry
	dispatcher *pipeline.Dispatcher
	closers    []func()
}

// openStore connects the record store selected by --store.
func openStore(ctx context.Context, opts *globalOptions, cfg *config.Config) (recordStore, error) {
	switch opts.store {
	case "memory":
		return db.NewMemory(), nil
	case "postgres":
		if err := cfg.RequireDatabase(); err != nil {
			return nil, err
		}
		database, err := db.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		return database, nil
	default:
		return nil, &config.Error{Field: "--store", Message: fmt.Sprintf("must be postgres or memory, got %q", opts.store)}
	}
}

// newApp wires config, logging, storage, generators and the dispatcher. Generators that cannot
// be built are recorded on the deps so the affected workflows report why they are unavailable.
func newApp(ctx context.Context, opts *globalOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  observability.SetupLogging(logOut, cfg.Logging.Level, cfg.Logging.Format),
		metrics: observability.NewMetrics(),
	}
	shutdownTracing := observability.SetupTracing("studio_agent")
	a.closers = append(a.closers, func() { _ = shutdownTracing(context.Background()) })

	a.store, err = openStore(ctx, opts, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	a.queue, err = queue.New(queue.Options{
		Driver:   cfg.Queue.Driver,
		URL:      cfg.Queue.URL,
		Name:     cfg.Queue.Name,
		Capacity: cfg.Queue.Capacity,
		Prefetch: cfg.Workers.Count,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.queue.Close() })

	a.deps = a.buildDeps(ctx)
	a.registry, err = pipeline.NewRegistry(a.deps)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.dispatcher = pipeline.NewDispatcher(a.store, a.queue, a.registry, pipeline.DispatcherConfig{
		Workers: cfg.Workers.Count,
		Retry: steps.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: config.Millis(cfg.Retry.InitialBackoffMillis),
			MaxBackoff:     config.Millis(cfg.Retry.MaxBackoffMillis),
			Multiplier:     2,
		},
		Logger:   a.logger,
		Tracer:   observability.Tracer(),
		Observer: a.metrics,
		Ready:    a.deps.Ready,
	})
	return a, nil
}

func (a *app) buildDeps(ctx context.Context) *pipeline.Deps {
	cfg := a.cfg
	deps := &pipeline.Deps{
		Videos:      a.store,
		Transcripts: transcript.NewFetcher(cfg.Transcripts.BaseURL, config.Seconds(cfg.Transcripts.TimeoutSeconds)),
		Images: imagegen.NewGenerator(imagegen.Config{
			BaseURL:  cfg.Images.BaseURL,
			Model:    cfg.Images.Model,
			Width:    cfg.Images.Width,
			Height:   cfg.Images.Height,
			Timeout:  config.Seconds(cfg.Images.TimeoutSeconds),
			MaxBytes: cfg.Images.MaxBytes,
		}),
		Logger: a.logger,
	}

	// One client per provider so both pipelines share its throttle.
	clients := map[string]llm.Client{}
	clientErrs := map[string]error{}
	textClient := func(provider string) (llm.Client, error) {
		if c, ok := clients[provider]; ok {
			return c, nil
		}
		if err, ok := clientErrs[provider]; ok {
			return nil, err
		}
		c, err := llm.NewClient(ctx, llmConfig(cfg.LLM, provider))
		if err != nil {
			a.logger.Warn("text generator unavailable", "provider", provider, "error", err)
			clientErrs[provider] = err
			return nil, err
		}
		clients[provider] = c
		a.closers = append(a.closers, func() { _ = c.Close() })
		return c, nil
	}
	deps.TitleLLM, deps.TitleErr = textClient(cfg.LLM.TitleProvider)
	deps.DescLLM, deps.DescErr = textClient(cfg.LLM.DescriptionProvider)

	uploader, err := storage.New(ctx, storage.Config{
		Provider:      cfg.Storage.Provider,
		Token:         cfg.Storage.Token,
		BaseURL:       cfg.Storage.BaseURL,
		Bucket:        cfg.Storage.Bucket,
		Region:        cfg.Storage.Region,
		Prefix:        cfg.Storage.Prefix,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		Dir:           cfg.Storage.Dir,
	})
	if err != nil {
		a.logger.Warn("asset storage unavailable", "provider", cfg.Storage.Provider, "error", err)
		deps.ThumbnailErr = err
	} else {
		deps.Uploader = uploader
		if c, ok := uploader.(io.Closer); ok {
			a.closers = append(a.closers, func() { _ = c.Close() })
		}
	}
	return deps
}

// llmConfig maps the service settings onto one provider's client config.
func llmConfig(cfg config.LLMConfig, provider string) *llm.Config {
	return &llm.Config{
		Provider: llm.Provider(provider),
		Models: map[llm.ModelTier]string{
			llm.TierLite:     cfg.LiteModel,
			llm.TierStandard: cfg.StandardModel,
		},
		Temperature:       cfg.Temperature,
		MaxOutputTokens:   cfg.MaxOutputTokens,
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		Token:             cfg.Token,
		Timeout:           config.Seconds(cfg.TimeoutSeconds),
		RequestsPerMinute: cfg.RequestsPerMinute,
	}
}

// createRun validates input for workflow and persists a pending run, publishing it unless the
// caller executes it itself.
func (a *app) createRun(ctx context.Context, workflow string, input types.WorkflowInput, publish bool) (*types.WorkflowRun, error) {
	if _, ok := a.registry.Get(workflow); !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", server.ErrUnknownWorkflow, workflow, a.registry.Names())
	}
	if err := input.Validate(workflow); err != nil {
		return nil, err
	}
	if err := a.deps.Ready(workflow); err != nil {
		return nil, err
	}
	run, err := a.store.CreateRun(ctx, workflow, input)
	if err != nil {
		return nil, err
	}
	if !publish {
		return run, nil
	}
	if err := a.dispatcher.Enqueue(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
