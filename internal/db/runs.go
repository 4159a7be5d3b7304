package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/video-studio/internal/types"
)

// -----------------------------------------------------------------------------
// Workflow Run Methods
// -----------------------------------------------------------------------------

const runColumns = `id, workflow, user_id, video_id, input, status, current_step,
	error_message, attempts, created_at, updated_at, completed_at`

func scanRun(row pgx.Row) (*types.WorkflowRun, error) {
	var r types.WorkflowRun
	var input []byte
	err := row.Scan(&r.ID, &r.Workflow, &r.UserID, &r.VideoID, &input, &r.Status, &r.CurrentStep,
		&r.ErrorMessage, &r.Attempts, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Input = json.RawMessage(input)
	return &r, nil
}

// CreateRun stores a pending run. The input is written once and never updated.
func (db *DB) CreateRun(ctx context.Context, workflow string, input types.WorkflowInput) (*types.WorkflowRun, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run input: %w", err)
	}
	r, err := scanRun(db.pool.QueryRow(ctx,
		`INSERT INTO workflow_runs (workflow, user_id, video_id, input, status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 RETURNING `+runColumns,
		workflow, input.UserID, input.VideoID, payload,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return r, nil
}

// GetRun returns the run, or nil if it does not exist.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*types.WorkflowRun, error) {
	r, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, runID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

func (db *DB) queryRuns(ctx context.Context, query string, args ...any) ([]types.WorkflowRun, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []types.WorkflowRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ListRunsByVideo returns the owner's runs for a video, newest first.
func (db *DB) ListRunsByVideo(ctx context.Context, videoID, userID uuid.UUID) ([]types.WorkflowRun, error) {
	return db.queryRuns(ctx,
		`SELECT `+runColumns+` FROM workflow_runs
		 WHERE video_id = $1 AND user_id = $2 ORDER BY created_at DESC`,
		videoID, userID)
}

// ListUnfinishedRuns returns pending and running runs, oldest first.
func (db *DB) ListUnfinishedRuns(ctx context.Context) ([]types.WorkflowRun, error) {
	return db.queryRuns(ctx,
		`SELECT `+runColumns+` FROM workflow_runs
		 WHERE status IN ('pending', 'running') ORDER BY created_at`)
}

// StartRun marks the run running and counts the attempt.
func (db *DB) StartRun(ctx context.Context, runID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs SET status = 'running', attempts = attempts + 1,
		        error_message = NULL, updated_at = NOW()
		 WHERE id = $1`,
		runID)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// CompleteRun marks the run completed.
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs SET status = 'completed', updated_at = NOW(), completed_at = NOW()
		 WHERE id = $1`,
		runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// FailRun marks the run failed with a message.
func (db *DB) FailRun(ctx context.Context, runID uuid.UUID, message string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs SET status = 'failed', error_message = $2,
		        updated_at = NOW(), completed_at = NOW()
		 WHERE id = $1`,
		runID, message)
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}
	return nil
}

// ResetRun moves a failed run back to pending. It reports false when the run is not failed.
func (db *DB) ResetRun(ctx context.Context, runID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs SET status = 'pending', error_message = NULL,
		        completed_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'failed'`,
		runID)
	if err != nil {
		return false, fmt.Errorf("failed to reset run: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
