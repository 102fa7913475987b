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
	"github.com/veilflow/veilflow/common/secrets"
)

// ConnectorRepository handles database operations for connectors.
// Secret config fields are sealed on write and opened only by GetDecrypted;
// Masked produces the client-safe view.
type ConnectorRepository struct {
	db  *db.DB
	box *secrets.Box
}

// NewConnectorRepository creates a new connector repository
func NewConnectorRepository(database *db.DB, box *secrets.Box) *ConnectorRepository {
	return &ConnectorRepository{db: database, box: box}
}

// Create inserts a connector, sealing secret config fields
func (r *ConnectorRepository) Create(ctx context.Context, c *models.Connector) error {
	sealed, err := r.sealConfig(c.Config)
	if err != nil {
		return err
	}

	configJSON, err := json.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		INSERT INTO connectors (id, tenant_id, type, name, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.Exec(ctx, query,
		c.ID, c.TenantID, c.Type, c.Name, configJSON, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}

	return nil
}

// GetDecrypted loads a connector with secret fields opened. Only the
// engine and the trigger supervisors call this, at point of use.
func (r *ConnectorRepository) GetDecrypted(ctx context.Context, id uuid.UUID) (*models.Connector, error) {
	c, err := r.getRaw(ctx, id)
	if err != nil {
		return nil, err
	}

	for key, value := range c.Config {
		s, ok := value.(string)
		if !ok || !secrets.IsEncrypted(s) {
			continue
		}
		plain, err := r.box.Decrypt(s)
		if err != nil {
			return nil, fmt.Errorf("decrypt connector field %s: %w", key, err)
		}
		c.Config[key] = plain
	}

	return c, nil
}

// GetMasked loads a connector with secret fields replaced by the redaction
// marker. This is the only view handed back to API clients.
func (r *ConnectorRepository) GetMasked(ctx context.Context, id uuid.UUID) (*models.Connector, error) {
	c, err := r.getRaw(ctx, id)
	if err != nil {
		return nil, err
	}

	for key, value := range c.Config {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if secrets.IsEncrypted(s) || models.IsSecretConfigKey(key) {
			c.Config[key] = secrets.Mask(s)
		}
	}

	return c, nil
}

func (r *ConnectorRepository) getRaw(ctx context.Context, id uuid.UUID) (*models.Connector, error) {
	query := `
		SELECT id, tenant_id, type, name, config, created_at, updated_at
		FROM connectors
		WHERE id = $1
	`

	c := &models.Connector{}
	var configJSON []byte

	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.TenantID, &c.Type, &c.Name, &configJSON, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connector: %w", err)
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &c.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	return c, nil
}

func (r *ConnectorRepository) sealConfig(config map[string]interface{}) (map[string]interface{}, error) {
	sealed := make(map[string]interface{}, len(config))
	for key, value := range config {
		s, ok := value.(string)
		if !ok || !models.IsSecretConfigKey(key) {
			sealed[key] = value
			continue
		}
		enc, err := r.box.Encrypt(s)
		if err != nil {
			return nil, fmt.Errorf("encrypt connector field %s: %w", key, err)
		}
		sealed[key] = enc
	}
	return sealed, nil
}
