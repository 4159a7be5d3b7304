package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Run executes one named step of the run. When the run already holds a completed record
// for name, the persisted result is decoded and returned without calling fn. Otherwise fn
// runs under the retry policy and its result is persisted before Run returns, so a later
// resume observes the same value.
//
// T must round-trip through encoding/json. fn must be safe to repeat: a crash between fn
// returning and the result being saved executes it again on resume.
func Run[T any](ctx context.Context, sc *Context, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := sc.claim(name); err != nil {
		return zero, err
	}

	rec, err := sc.store.LoadStep(ctx, sc.runID, name)
	if err != nil {
		return zero, fmt.Errorf("failed to load step %s: %w", name, err)
	}
	if rec != nil && rec.Status == StatusCompleted {
		var out T
		if len(rec.Output) > 0 {
			if err := json.Unmarshal(rec.Output, &out); err != nil {
				return zero, &Error{Step: name, Attempts: rec.Attempts, Err: fmt.Errorf("failed to decode persisted result: %w", err)}
			}
		}
		sc.Logger().DebugContext(ctx, "step replayed", "step", name)
		sc.observe(name, OutcomeReplayed, 0)
		return out, nil
	}

	ctx, span := sc.tracer.Start(ctx, "step "+name, trace.WithAttributes(
		attribute.String("workflow", sc.workflow.Name),
		attribute.String("run_id", sc.runID.String()),
		attribute.String("step", name),
	))
	defer span.End()

	logger := sc.Logger().With("step", name)
	started := sc.now()
	attempt := 0
	var lastErr error

	for attempt < sc.policy.MaxAttempts {
		attempt++
		out, err := fn(ctx)
		if err == nil {
			err = sc.persist(ctx, name, out, attempt, started)
			if err == nil {
				span.SetStatus(codes.Ok, "")
				span.SetAttributes(attribute.Int("attempts", attempt))
				sc.observe(name, OutcomeCompleted, sc.now().Sub(started))
				logger.InfoContext(ctx, "step completed", "attempts", attempt)
				return out, nil
			}
		}
		lastErr = err

		// Cancellation leaves no failure record so the run can resume later.
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.RecordError(ctxErr)
			span.SetStatus(codes.Error, "canceled")
			return zero, ctxErr
		}
		if IsPermanent(err) || attempt >= sc.policy.MaxAttempts {
			break
		}

		delay := sc.policy.Backoff(attempt)
		logger.WarnContext(ctx, "step attempt failed, retrying",
			"attempt", attempt, "backoff", delay.String(), "error", err)
		sc.observe(name, OutcomeRetried, 0)
		if err := sc.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	stepErr := &Error{Step: name, Attempts: attempt, Err: lastErr}
	completed := sc.now()
	failure := &Record{
		RunID:       sc.runID,
		Step:        name,
		Status:      StatusFailed,
		Attempts:    attempt,
		Error:       lastErr.Error(),
		StartedAt:   started,
		CompletedAt: &completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
	}
	if err := sc.store.SaveStep(ctx, failure); err != nil {
		logger.ErrorContext(ctx, "failed to record step failure", "error", err)
	}

	span.RecordError(stepErr)
	span.SetStatus(codes.Error, stepErr.Error())
	sc.observe(name, OutcomeFailed, completed.Sub(started))
	logger.ErrorContext(ctx, "step failed", "attempts", attempt, "error", lastErr)
	return zero, stepErr
}

func (c *Context) persist(ctx context.Context, name string, out any, attempt int, started time.Time) error {
	data, err := json.Marshal(out)
	if err != nil {
		return Permanent(fmt.Errorf("failed to encode step result: %w", err))
	}
	completed := c.now()
	rec := &Record{
		RunID:       c.runID,
		Step:        name,
		Status:      StatusCompleted,
		Output:      data,
		Attempts:    attempt,
		StartedAt:   started,
		CompletedAt: &completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
	}
	if err := c.store.SaveStep(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist step result: %w", err)
	}
	return nil
}
