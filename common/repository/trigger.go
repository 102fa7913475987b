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

// TriggerRepository handles database operations for triggers
type TriggerRepository struct {
	db *db.DB
}

// NewTriggerRepository creates a new trigger repository
func NewTriggerRepository(database *db.DB) *TriggerRepository {
	return &TriggerRepository{db: database}
}

// Create inserts a new trigger
func (r *TriggerRepository) Create(ctx context.Context, t *models.Trigger) error {
	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		INSERT INTO triggers (id, tenant_id, type, config, connector_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.Exec(ctx, query,
		t.ID, t.TenantID, t.Type, configJSON, t.ConnectorID, t.Status,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create trigger: %w", err)
	}

	return nil
}

// GetByID retrieves a trigger by its ID
func (r *TriggerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Trigger, error) {
	query := `
		SELECT id, tenant_id, type, config, connector_id, status, created_at, updated_at
		FROM triggers
		WHERE id = $1
	`

	t := &models.Trigger{}
	var configJSON []byte

	err := r.db.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.TenantID, &t.Type, &configJSON, &t.ConnectorID, &t.Status,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trigger: %w", err)
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &t.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	return t, nil
}

// ListActiveByType lists active triggers of a given type. Used by the
// polling supervisors on each cycle.
func (r *TriggerRepository) ListActiveByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	query := `
		SELECT id, tenant_id, type, config, connector_id, status, created_at, updated_at
		FROM triggers
		WHERE type = $1 AND status = 'active'
	`

	rows, err := r.db.Query(ctx, query, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*models.Trigger
	for rows.Next() {
		t := &models.Trigger{}
		var configJSON []byte

		err := rows.Scan(
			&t.ID, &t.TenantID, &t.Type, &configJSON, &t.ConnectorID, &t.Status,
			&t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &t.Config); err != nil {
				return nil, fmt.Errorf("unmarshal config: %w", err)
			}
		}

		triggers = append(triggers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}

	return triggers, nil
}

// UpdateStatus activates or deactivates a trigger
func (r *TriggerRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.TriggerStatus) error {
	query := `
		UPDATE triggers
		SET status = $2, updated_at = now()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update trigger status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
