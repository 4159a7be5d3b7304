package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/video-studio/internal/observability"
	"github.com/jonathan/video-studio/internal/pipeline/steps"
	"github.com/jonathan/video-studio/internal/queue"
	"github.com/jonathan/video-studio/internal/types"
)

// RunStore persists runs and their step records.
type RunStore interface {
	steps.Store
	GetRun(ctx context.Context, runID uuid.UUID) (*types.WorkflowRun, error)
	ListUnfinishedRuns(ctx context.Context) ([]types.WorkflowRun, error)
	StartRun(ctx context.Context, runID uuid.UUID) error
	CompleteRun(ctx context.Context, runID uuid.UUID) error
	FailRun(ctx context.Context, runID uuid.UUID, message string) error
}

// Observer receives run and step outcomes.
type Observer interface {
	steps.Observer
	RunFinished(workflow, status string, d time.Duration)
	RunEnqueued(workflow string)
}

// DispatcherConfig configures a Dispatcher. Zero values get defaults.
type DispatcherConfig struct {
	Workers  int
	Retry    steps.RetryPolicy
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Observer Observer
	// Ready rejects runs whose workflow cannot execute with the current configuration.
	Ready func(workflow string) error
}

// Dispatcher executes queued runs on a bounded worker pool.
type Dispatcher struct {
	runs     RunStore
	queue    queue.Queue
	registry *steps.Registry
	cfg      DispatcherConfig
	logger   *slog.Logger

	// run IDs executing in this process; duplicate deliveries are dropped
	active sync.Map

	mu       sync.Mutex
	failures map[uuid.UUID]int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(runs RunStore, q queue.Queue, registry *steps.Registry, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = steps.DefaultRetryPolicy()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.Tracer()
	}
	return &Dispatcher{
		runs:     runs,
		queue:    q,
		registry: registry,
		cfg:      cfg,
		logger:   observability.Logger(cfg.Logger).With("component", "dispatcher"),
	}
}

// Enqueue publishes a stored run for execution.
func (d *Dispatcher) Enqueue(ctx context.Context, run *types.WorkflowRun) error {
	if err := d.queue.Publish(ctx, queue.Message{RunID: run.ID, Workflow: run.Workflow}); err != nil {
		return fmt.Errorf("failed to enqueue run %s: %w", run.ID, err)
	}
	if d.cfg.Observer != nil {
		d.cfg.Observer.RunEnqueued(run.Workflow)
	}
	return nil
}

// Start consumes deliveries and executes them until ctx is done. Runs left pending or running
// by a previous process are re-published while the workers drain the queue, so a backlog
// larger than the queue's capacity does not stall startup. In-flight runs finish their
// current step attempt and stay running for the next start.
func (d *Dispatcher) Start(ctx context.Context) error {
	unfinished, err := d.runs.ListUnfinishedRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unfinished runs: %w", err)
	}

	deliveries, err := d.queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume queue: %w", err)
	}
	d.logger.InfoContext(ctx, "dispatcher started", "workers", d.cfg.Workers, "unfinished", len(unfinished))

	resumed := make(chan struct{})
	go func() {
		defer close(resumed)
		n, err := d.republish(ctx, unfinished)
		switch {
		case err != nil && ctx.Err() == nil:
			d.logger.ErrorContext(ctx, "failed to resume unfinished runs", "resumed", n, "error", err)
		case n > 0:
			d.logger.InfoContext(ctx, "resumed unfinished runs", "count", n)
		}
	}()

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for delivery := range deliveries {
		g.Go(func() error {
			d.handle(ctx, delivery)
			return nil
		})
	}
	_ = g.Wait()
	<-resumed

	d.logger.InfoContext(ctx, "dispatcher stopped")
	return nil
}

// republish enqueues runs in order and returns how many were published.
func (d *Dispatcher) republish(ctx context.Context, runs []types.WorkflowRun) (int, error) {
	for i := range runs {
		if err := d.Enqueue(ctx, &runs[i]); err != nil {
			return i, err
		}
	}
	return len(runs), nil
}

func (d *Dispatcher) handle(ctx context.Context, delivery queue.Delivery) {
	err := d.Execute(ctx, delivery.RunID)
	switch {
	case err == nil:
		d.forget(delivery.RunID)
		_ = delivery.Ack()
	case ctx.Err() != nil:
		_ = delivery.Nack(true)
	default:
		// The run is still unfinished in the store; hand it back after a pause.
		delay := d.requeueDelay(delivery.RunID)
		d.logger.ErrorContext(ctx, "failed to execute run", "run_id", delivery.RunID, "retry_in", delay.String(), "error", err)
		wait(ctx, delay)
		_ = delivery.Nack(true)
	}
}

// requeueDelay counts consecutive failures of a run and returns the backoff before the next try.
func (d *Dispatcher) requeueDelay(runID uuid.UUID) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures == nil {
		d.failures = make(map[uuid.UUID]int)
	}
	d.failures[runID]++
	return d.cfg.Retry.Backoff(d.failures[runID])
}

func (d *Dispatcher) forget(runID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, runID)
}

func wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Execute runs one workflow run to a resting state. A run that fails is recorded as failed
// and Execute returns nil; an error means the run could not be driven at all.
func (d *Dispatcher) Execute(ctx context.Context, runID uuid.UUID) error {
	if _, busy := d.active.LoadOrStore(runID, struct{}{}); busy {
		d.logger.DebugContext(ctx, "run already executing", "run_id", runID)
		return nil
	}
	defer d.active.Delete(runID)

	run, err := d.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		d.logger.WarnContext(ctx, "run not found", "run_id", runID)
		return nil
	}
	if run.Status.IsTerminal() {
		d.logger.DebugContext(ctx, "run already finished", "run_id", runID, "status", run.Status)
		return nil
	}

	logger := d.logger.With("run_id", run.ID, "workflow", run.Workflow, "video_id", run.VideoID)

	wf, ok := d.registry.Get(run.Workflow)
	if !ok {
		return d.fail(ctx, logger, run, 0, fmt.Errorf("unknown workflow %q", run.Workflow))
	}
	if d.cfg.Ready != nil {
		if err := d.cfg.Ready(run.Workflow); err != nil {
			return d.fail(ctx, logger, run, 0, err)
		}
	}

	if err := d.runs.StartRun(ctx, run.ID); err != nil {
		return err
	}

	ctx, span := d.cfg.Tracer.Start(ctx, "run "+run.Workflow, trace.WithAttributes(
		attribute.String("run_id", run.ID.String()),
		attribute.String("video_id", run.VideoID.String()),
	))
	defer span.End()

	opts := []steps.Option{
		steps.WithRetryPolicy(d.cfg.Retry),
		steps.WithLogger(logger),
		steps.WithTracer(d.cfg.Tracer),
	}
	if d.cfg.Observer != nil {
		opts = append(opts, steps.WithObserver(d.cfg.Observer))
	}
	sc := steps.NewContext(run.ID, wf, d.runs, opts...)

	started := time.Now()
	logger.InfoContext(ctx, "run started", "attempt", run.Attempts+1)
	if err := wf.Handler(ctx, sc, run.Input); err != nil {
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "run interrupted", "error", err)
			return ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return d.fail(ctx, logger, run, time.Since(started), err)
	}

	if err := d.runs.CompleteRun(ctx, run.ID); err != nil {
		return err
	}
	span.SetStatus(codes.Ok, "")
	d.finished(run.Workflow, types.RunStatusCompleted, time.Since(started))
	logger.InfoContext(ctx, "run completed", "duration", time.Since(started).String())
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, run *types.WorkflowRun, elapsed time.Duration, cause error) error {
	if err := d.runs.FailRun(ctx, run.ID, cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	d.finished(run.Workflow, types.RunStatusFailed, elapsed)
	logger.ErrorContext(ctx, "run failed", "error", cause)
	return nil
}

func (d *Dispatcher) finished(workflow string, status types.RunStatus, elapsed time.Duration) {
	if d.cfg.Observer != nil {
		d.cfg.Observer.RunFinished(workflow, string(status), elapsed)
	}
}
