package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewLogger_RenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "json")
	logger.Warn("careful", "video_id", "v1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARNING", entry["severity"])
	assert.Equal(t, "careful", entry["message"])
	assert.Contains(t, entry, "timestamp")
	assert.Equal(t, "v1", entry["video_id"])
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	assert.Empty(t, buf.String())
}

func TestNewLogger_InjectsSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "json").With("component", "test")

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background()) //nolint:errcheck
	ctx, span := tp.Tracer("t").Start(context.Background(), "op")
	logger.InfoContext(ctx, "inside span")
	span.End()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
	assert.Equal(t, "test", entry["component"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestLogger_NilSafe(t *testing.T) {
	assert.NotPanics(t, func() { Logger(nil).Info("dropped") })
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.StepObserved("title", "get-video", "completed", 20*time.Millisecond)
	m.StepObserved("title", "get-video", "replayed", 0)
	m.RunFinished("title", "completed", time.Second)
	m.RunEnqueued("title")
	m.RequestObserved("POST", "/api/videos", 201, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("title", "get-video", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("title", "get-video", "replayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("title", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enqueued.WithLabelValues("title")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("POST", "/api/videos", "201")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RunFinished("description", "failed", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `studio_workflow_runs_total{status="failed",workflow="description"} 1`)
}

func TestSetupTracing(t *testing.T) {
	shutdown := SetupTracing("studio-test")
	ctx, span := Tracer().Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(ctx))
}
