package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Step outcomes reported to an Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeReplayed  = "replayed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// ErrDuplicateStep is returned when a run executes the same step name twice.
var ErrDuplicateStep = errors.New("duplicate step name in run")

// Observer receives one call per step outcome.
type Observer interface {
	StepObserved(workflow, step, outcome string, d time.Duration)
}

// OrderError reports a step executed out of the workflow's declared order.
type OrderError struct {
	Workflow string
	Step     string
	Expected string
}

func (e *OrderError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("workflow %s: step %q is not declared", e.Workflow, e.Step)
	}
	return fmt.Sprintf("workflow %s: step %q ran before %q", e.Workflow, e.Step, e.Expected)
}

// Error is returned by Run when a step exhausts its attempts or fails permanently.
type Error struct {
	Step     string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Context carries one run's identity and execution settings through its steps.
// It is not shared between runs.
type Context struct {
	runID    uuid.UUID
	workflow Workflow
	store    Store
	policy   RetryPolicy
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time

	mu   sync.Mutex
	seen map[string]bool
	next int
}

// Option configures a Context.
type Option func(*Context)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Context) { c.policy = p.normalized() }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Context) {
		if t != nil {
			c.tracer = t
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Context) { c.observer = o }
}

// NewContext prepares the execution context for one run of wf.
func NewContext(runID uuid.UUID, wf Workflow, store Store, opts ...Option) *Context {
	c := &Context{
		runID:    runID,
		workflow: wf,
		store:    store,
		policy:   DefaultRetryPolicy(),
		logger:   slog.New(slog.DiscardHandler),
		tracer:   otel.Tracer("github.com/jonathan/video-studio/internal/pipeline/steps"),
		sleep:    sleepContext,
		now:      time.Now,
		seen:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunID returns the run this context executes.
func (c *Context) RunID() uuid.UUID {
	return c.runID
}

// Workflow returns the workflow name.
func (c *Context) Workflow() string {
	return c.workflow.Name
}

// Logger returns the run-scoped logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger.With("run_id", c.runID.String(), "workflow", c.workflow.Name)
}

// claim registers a step execution, rejecting duplicates and out-of-order steps.
func (c *Context) claim(step string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seen[step] {
		return fmt.Errorf("%w: %s", ErrDuplicateStep, step)
	}
	if len(c.workflow.Steps) > 0 {
		if c.next >= len(c.workflow.Steps) {
			return &OrderError{Workflow: c.workflow.Name, Step: step}
		}
		if expected := c.workflow.Steps[c.next]; expected != step {
			return &OrderError{Workflow: c.workflow.Name, Step: step, Expected: expected}
		}
	}
	c.seen[step] = true
	c.next++
	return nil
}

func (c *Context) observe(step, outcome string, d time.Duration) {
	if c.observer != nil {
		c.observer.StepObserved(c.workflow.Name, step, outcome, d)
	}
}
