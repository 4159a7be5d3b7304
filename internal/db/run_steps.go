package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/video-studio/internal/pipeline/steps"
)

// -----------------------------------------------------------------------------
// Run Steps Methods
// -----------------------------------------------------------------------------
// DB implements steps.Store.

var _ steps.Store = (*DB)(nil)

const stepColumns = `run_id, step, status, output, attempts, error_message,
	started_at, completed_at, duration_ms`

func scanStep(row pgx.Row) (*steps.Record, error) {
	var rec steps.Record
	var output []byte
	var errMsg *string
	err := row.Scan(&rec.RunID, &rec.Step, &rec.Status, &output, &rec.Attempts, &errMsg,
		&rec.StartedAt, &rec.CompletedAt, &rec.DurationMS)
	if err != nil {
		return nil, err
	}
	rec.Output = output
	if errMsg != nil {
		rec.Error = *errMsg
	}
	return &rec, nil
}

// LoadStep returns the recorded result of a step, or nil if the step has not run.
func (db *DB) LoadStep(ctx context.Context, runID uuid.UUID, step string) (*steps.Record, error) {
	rec, err := scanStep(db.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = $1 AND step = $2`,
		runID, step,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run step: %w", err)
	}
	return rec, nil
}

// SaveStep upserts the step record and moves the run's current_step in one transaction.
func (db *DB) SaveStep(ctx context.Context, rec *steps.Record) error {
	var output []byte
	if len(rec.Output) > 0 {
		output = rec.Output
	}
	var errMsg *string
	if rec.Error != "" {
		errMsg = &rec.Error
	}

	return db.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO run_steps (run_id, step, status, output, attempts, error_message,
			                        started_at, completed_at, duration_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (run_id, step) DO UPDATE SET
			     status = EXCLUDED.status, output = EXCLUDED.output, attempts = EXCLUDED.attempts,
			     error_message = EXCLUDED.error_message, started_at = EXCLUDED.started_at,
			     completed_at = EXCLUDED.completed_at, duration_ms = EXCLUDED.duration_ms`,
			rec.RunID, rec.Step, rec.Status, output, rec.Attempts, errMsg,
			rec.StartedAt, rec.CompletedAt, rec.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("failed to save run step %s: %w", rec.Step, err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE workflow_runs SET current_step = $2, updated_at = NOW() WHERE id = $1`,
			rec.RunID, rec.Step)
		if err != nil {
			return fmt.Errorf("failed to update run progress: %w", err)
		}
		return nil
	})
}

// ListRunSteps returns every recorded step of a run in execution order.
func (db *DB) ListRunSteps(ctx context.Context, runID uuid.UUID) ([]steps.Record, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = $1 ORDER BY started_at, created_at`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	defer rows.Close()

	records := []steps.Record{}
	for rows.Next() {
		rec, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}
