// Package triggers holds the supervisors that turn external events into
// workflow runs: a cron scheduler, a chain-memo watcher, an HTTP poller
// and a social-feed poller. Each supervisor is an independent periodic
// task owning only a private in-memory dedup state.
package triggers

import (
	"context"

	"github.com/google/uuid"
	"github.com/veilflow/veilflow/common/models"
)

// RunCreator submits runs. Implemented by service.RunService.
type RunCreator interface {
	CreateRun(ctx context.Context, workflow *models.Workflow, triggerID *uuid.UUID, payload map[string]interface{}, source string) (*models.Run, error)
}

// TriggerSource lists the active triggers a supervisor polls for
type TriggerSource interface {
	ListActiveByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error)
}

// WorkflowSource resolves the published workflow bound to a trigger
type WorkflowSource interface {
	GetPublishedByTrigger(ctx context.Context, triggerID uuid.UUID) (*models.Workflow, error)
	ListPublishedByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error)
}

// ConnectorSource loads decrypted connectors for triggers that carry
// credentials
type ConnectorSource interface {
	GetDecrypted(ctx context.Context, id uuid.UUID) (*models.Connector, error)
}
