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

// ErrNotFound is returned when a requested document does not exist
var ErrNotFound = errors.New("not found")

// WorkflowRepository handles database operations for workflow definitions
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

// Create inserts a new workflow (always as draft, version 1)
func (r *WorkflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	graphJSON, err := json.Marshal(wf.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	query := `
		INSERT INTO workflows (id, tenant_id, name, status, trigger_id, dataset_id, graph, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.Exec(ctx, query,
		wf.ID, wf.TenantID, wf.Name, wf.Status, wf.TriggerID, wf.DatasetID,
		graphJSON, wf.Version, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	return nil
}

// GetByID retrieves a workflow by its ID
func (r *WorkflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	query := `
		SELECT id, tenant_id, name, status, trigger_id, dataset_id, graph, version, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// GetPublishedByTrigger retrieves the published workflow bound to a trigger
func (r *WorkflowRepository) GetPublishedByTrigger(ctx context.Context, triggerID uuid.UUID) (*models.Workflow, error) {
	query := `
		SELECT id, tenant_id, name, status, trigger_id, dataset_id, graph, version, created_at, updated_at
		FROM workflows
		WHERE trigger_id = $1 AND status = 'published'
	`

	return r.scanOne(r.db.QueryRow(ctx, query, triggerID))
}

// ListPublishedByTriggerType lists published workflows whose bound trigger
// is active and of the given type. Used by the trigger supervisors.
func (r *WorkflowRepository) ListPublishedByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	query := `
		SELECT w.id, w.tenant_id, w.name, w.status, w.trigger_id, w.dataset_id, w.graph, w.version, w.created_at, w.updated_at
		FROM workflows w
		JOIN triggers t ON t.id = w.trigger_id
		WHERE w.status = 'published' AND t.status = 'active' AND t.type = $1
	`

	rows, err := r.db.Query(ctx, query, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows by trigger type: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// UpdateStatus transitions a workflow's lifecycle status
func (r *WorkflowRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.WorkflowStatus) error {
	query := `
		UPDATE workflows
		SET status = $2, updated_at = now()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update workflow status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateGraph replaces a workflow's graph and bumps its version
func (r *WorkflowRepository) UpdateGraph(ctx context.Context, id uuid.UUID, graph *models.Graph) error {
	graphJSON, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	query := `
		UPDATE workflows
		SET graph = $2, version = version + 1, updated_at = now()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, graphJSON)
	if err != nil {
		return fmt.Errorf("failed to update workflow graph: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// BindTrigger attaches a trigger to a workflow
func (r *WorkflowRepository) BindTrigger(ctx context.Context, id, triggerID uuid.UUID) error {
	query := `
		UPDATE workflows
		SET trigger_id = $2, updated_at = now()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, triggerID)
	if err != nil {
		return fmt.Errorf("failed to bind trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *WorkflowRepository) scanOne(row pgx.Row) (*models.Workflow, error) {
	wf := &models.Workflow{}
	var graphJSON []byte

	err := row.Scan(
		&wf.ID, &wf.TenantID, &wf.Name, &wf.Status, &wf.TriggerID, &wf.DatasetID,
		&graphJSON, &wf.Version, &wf.CreatedAt, &wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if len(graphJSON) > 0 {
		if err := json.Unmarshal(graphJSON, &wf.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal graph: %w", err)
		}
	}

	return wf, nil
}

func (r *WorkflowRepository) scanAll(rows pgx.Rows) ([]*models.Workflow, error) {
	var workflows []*models.Workflow

	for rows.Next() {
		wf := &models.Workflow{}
		var graphJSON []byte

		err := rows.Scan(
			&wf.ID, &wf.TenantID, &wf.Name, &wf.Status, &wf.TriggerID, &wf.DatasetID,
			&graphJSON, &wf.Version, &wf.CreatedAt, &wf.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		if len(graphJSON) > 0 {
			if err := json.Unmarshal(graphJSON, &wf.Graph); err != nil {
				return nil, fmt.Errorf("unmarshal graph: %w", err)
			}
		}

		workflows = append(workflows, wf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}
