package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Handler executes a workflow body for one run. It calls Run once per declared step.
type Handler func(ctx context.Context, sc *Context, input json.RawMessage) error

// Workflow is a named, ordered sequence of steps.
type Workflow struct {
	Name    string
	Steps   []string
	Handler Handler
}

// DefinitionError reports an invalid workflow definition.
type DefinitionError struct {
	Workflow string
	Message  string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid workflow %q: %s", e.Workflow, e.Message)
}

// Registry holds the workflows a dispatcher can execute.
type Registry struct {
	workflows map[string]Workflow
}

// NewRegistry validates and registers the given workflows.
func NewRegistry(workflows ...Workflow) (*Registry, error) {
	r := &Registry{workflows: make(map[string]Workflow, len(workflows))}
	for _, wf := range workflows {
		if err := validateWorkflow(wf); err != nil {
			return nil, err
		}
		if _, exists := r.workflows[wf.Name]; exists {
			return nil, &DefinitionError{Workflow: wf.Name, Message: "registered twice"}
		}
		r.workflows[wf.Name] = wf
	}
	return r, nil
}

func validateWorkflow(wf Workflow) error {
	if wf.Name == "" {
		return &DefinitionError{Message: "name is empty"}
	}
	if wf.Handler == nil {
		return &DefinitionError{Workflow: wf.Name, Message: "handler is nil"}
	}
	if len(wf.Steps) == 0 {
		return &DefinitionError{Workflow: wf.Name, Message: "declares no steps"}
	}
	seen := make(map[string]bool, len(wf.Steps))
	for _, step := range wf.Steps {
		if step == "" {
			return &DefinitionError{Workflow: wf.Name, Message: "has an unnamed step"}
		}
		if seen[step] {
			return &DefinitionError{Workflow: wf.Name, Message: fmt.Sprintf("step %q declared twice", step)}
		}
		seen[step] = true
	}
	return nil
}

// Get returns the workflow registered under name.
func (r *Registry) Get(name string) (Workflow, bool) {
	wf, ok := r.workflows[name]
	return wf, ok
}

// Names returns the registered workflow names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
