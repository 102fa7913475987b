package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/veilflow/veilflow/common/db"
	"github.com/veilflow/veilflow/common/models"
)

// RunRepository handles database operations for workflow runs
type RunRepository struct {
	db *db.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(database *db.DB) *RunRepository {
	return &RunRepository{db: database}
}

// Create inserts a new pending run
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	payloadJSON, err := json.Marshal(run.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO runs (id, workflow_id, trigger_id, tenant_id, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.Exec(ctx, query,
		run.ID, run.WorkflowID, run.TriggerID, run.TenantID,
		payloadJSON, run.Status, run.Attempts, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetByID retrieves a run by its ID
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	query := `
		SELECT id, workflow_id, trigger_id, tenant_id, payload, status, result, attempts, last_error, created_at, started_at, ended_at
		FROM runs
		WHERE id = $1
	`

	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// MarkRunning transitions a non-terminal run to running, recording the
// start time and bumping the attempt counter
func (r *RunRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE runs
		SET status = 'running', attempts = attempts + 1,
		    started_at = COALESCE(started_at, now()), ended_at = NULL
		WHERE id = $1 AND status IN ('pending', 'running', 'failed')
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkSucceeded finalizes a run with its result
func (r *RunRepository) MarkSucceeded(ctx context.Context, id uuid.UUID, result map[string]interface{}) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `
		UPDATE runs
		SET status = 'succeeded', result = $2, ended_at = now(), last_error = NULL
		WHERE id = $1 AND status = 'running'
	`

	tag, err := r.db.Exec(ctx, query, id, resultJSON)
	if err != nil {
		return fmt.Errorf("failed to mark run succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkFailed finalizes or parks a run with a structured error. Retryable
// failures keep the run eligible for another attempt; fatal ones are
// terminal.
func (r *RunRepository) MarkFailed(ctx context.Context, id uuid.UUID, runErr *models.RunError) error {
	errJSON, err := json.Marshal(runErr)
	if err != nil {
		return fmt.Errorf("marshal run error: %w", err)
	}

	query := `
		UPDATE runs
		SET status = 'failed', last_error = $2, ended_at = now()
		WHERE id = $1 AND status = 'running'
	`

	tag, err := r.db.Exec(ctx, query, id, errJSON)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkExhausted parks a run as failed once the queue gives up delivering
// its job. Works from any non-succeeded status, so runs that never reached
// running (the store itself was failing) still end up failed.
func (r *RunRepository) MarkExhausted(ctx context.Context, id uuid.UUID, runErr *models.RunError) error {
	errJSON, err := json.Marshal(runErr)
	if err != nil {
		return fmt.Errorf("marshal run error: %w", err)
	}

	query := `
		UPDATE runs
		SET status = 'failed', last_error = $2, ended_at = now()
		WHERE id = $1 AND status <> 'succeeded'
	`

	if _, err := r.db.Exec(ctx, query, id, errJSON); err != nil {
		return fmt.Errorf("failed to mark run exhausted: %w", err)
	}

	return nil
}

// ListByWorkflow retrieves runs of a workflow, newest first
func (r *RunRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID, limit int) ([]*models.Run, error) {
	query := `
		SELECT id, workflow_id, trigger_id, tenant_id, payload, status, result, attempts, last_error, created_at, started_at, ended_at
		FROM runs
		WHERE workflow_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func (r *RunRepository) scanOne(row pgx.Row) (*models.Run, error) {
	run, err := scanRun(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (r *RunRepository) scanRow(rows pgx.Rows) (*models.Run, error) {
	run, err := scanRun(rows.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return run, nil
}

func scanRun(scan func(dest ...any) error) (*models.Run, error) {
	run := &models.Run{}
	var payloadJSON, resultJSON, errJSON []byte

	err := scan(
		&run.ID, &run.WorkflowID, &run.TriggerID, &run.TenantID,
		&payloadJSON, &run.Status, &resultJSON, &run.Attempts, &errJSON,
		&run.CreatedAt, &run.StartedAt, &run.EndedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &run.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &run.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(errJSON) > 0 {
		if err := json.Unmarshal(errJSON, &run.LastError); err != nil {
			return nil, fmt.Errorf("unmarshal last error: %w", err)
		}
	}

	return run, nil
}
