// Package container wires the API service's repositories and services
// once at startup.
package container

import (
	"github.com/veilflow/veilflow/common/bootstrap"
	"github.com/veilflow/veilflow/common/repository"
	"github.com/veilflow/veilflow/common/service"
)

// Container holds all initialized services and repositories
type Container struct {
	Components *bootstrap.Components

	// Repositories
	WorkflowRepo  *repository.WorkflowRepository
	RunRepo       *repository.RunRepository
	TriggerRepo   *repository.TriggerRepository
	ConnectorRepo *repository.ConnectorRepository
	LedgerRepo    *repository.LedgerRepository

	// Services
	WorkflowService *service.WorkflowService
	RunService      *service.RunService
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	workflowRepo := repository.NewWorkflowRepository(components.DB)
	runRepo := repository.NewRunRepository(components.DB)
	triggerRepo := repository.NewTriggerRepository(components.DB)
	connectorRepo := repository.NewConnectorRepository(components.DB, components.Secrets)
	ledgerRepo := repository.NewLedgerRepository(components.DB)

	workflowService := service.NewWorkflowService(workflowRepo, triggerRepo, components.Logger)
	runService := service.NewRunService(runRepo, components.Queue, components.Logger)

	return &Container{
		Components:      components,
		WorkflowRepo:    workflowRepo,
		RunRepo:         runRepo,
		TriggerRepo:     triggerRepo,
		ConnectorRepo:   connectorRepo,
		LedgerRepo:      ledgerRepo,
		WorkflowService: workflowService,
		RunService:      runService,
	}, nil
}
