package steps

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *Context, json.RawMessage) error { return nil }

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(
		Workflow{Name: "title", Steps: []string{"get-video", "update-video"}, Handler: noop},
		Workflow{Name: "description", Steps: []string{"get-video"}, Handler: noop},
	)
	require.NoError(t, err)

	wf, ok := r.Get("title")
	require.True(t, ok)
	assert.Equal(t, []string{"get-video", "update-video"}, wf.Steps)

	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"description", "title"}, r.Names())
}

func TestNewRegistry_InvalidDefinitions(t *testing.T) {
	tests := []struct {
		name     string
		workflow Workflow
		message  string
	}{
		{"empty name", Workflow{Steps: []string{"a"}, Handler: noop}, "name is empty"},
		{"nil handler", Workflow{Name: "w", Steps: []string{"a"}}, "handler is nil"},
		{"no steps", Workflow{Name: "w", Handler: noop}, "declares no steps"},
		{"duplicate step", Workflow{Name: "w", Steps: []string{"a", "a"}, Handler: noop}, "declared twice"},
		{"unnamed step", Workflow{Name: "w", Steps: []string{""}, Handler: noop}, "unnamed step"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.workflow)
			var defErr *DefinitionError
			require.ErrorAs(t, err, &defErr)
			assert.Contains(t, defErr.Error(), tt.message)
		})
	}
}

func TestNewRegistry_DuplicateWorkflow(t *testing.T) {
	wf := Workflow{Name: "w", Steps: []string{"a"}, Handler: noop}
	_, err := NewRegistry(wf, wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registered twice")
}
