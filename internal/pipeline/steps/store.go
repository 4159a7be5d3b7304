// Package steps provides the durable step runner used by the enrichment workflows.
// Each named step's result is persisted per run, so a resumed run replays completed
// steps from storage instead of executing them again.
package steps

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the persisted state of a step.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is one persisted step result, keyed by (RunID, Step).
type Record struct {
	RunID       uuid.UUID       `json:"run_id"`
	Step        string          `json:"step"`
	Status      Status          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Attempts    int             `json:"attempts"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
}

// Store persists step records. LoadStep returns nil, nil when no record exists.
// SaveStep upserts on (RunID, Step).
type Store interface {
	LoadStep(ctx context.Context, runID uuid.UUID, step string) (*Record, error)
	SaveStep(ctx context.Context, rec *Record) error
}

type recordKey struct {
	runID uuid.UUID
	step  string
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]Record
	order   map[uuid.UUID][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[recordKey]Record),
		order:   make(map[uuid.UUID][]string),
	}
}

func (m *MemoryStore) LoadStep(_ context.Context, runID uuid.UUID, step string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordKey{runID, step}]
	if !ok {
		return nil, nil
	}
	rec.Output = append(json.RawMessage(nil), rec.Output...)
	return &rec, nil
}

func (m *MemoryStore) SaveStep(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey{rec.RunID, rec.Step}
	if _, exists := m.records[key]; !exists {
		m.order[rec.RunID] = append(m.order[rec.RunID], rec.Step)
	}
	stored := *rec
	stored.Output = append(json.RawMessage(nil), rec.Output...)
	m.records[key] = stored
	return nil
}

// ListSteps returns a run's records in first-write order.
func (m *MemoryStore) ListSteps(_ context.Context, runID uuid.UUID) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.order[runID]
	out := make([]Record, 0, len(names))
	for _, name := range names {
		out = append(out, m.records[recordKey{runID, name}])
	}
	return out, nil
}
