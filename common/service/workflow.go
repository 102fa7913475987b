package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/veilflow/veilflow/common/engine"
	"github.com/veilflow/veilflow/common/logger"
	"github.com/veilflow/veilflow/common/models"
	"github.com/veilflow/veilflow/common/repository"
)

// WorkflowService manages workflow definitions and their lifecycle
type WorkflowService struct {
	workflows *repository.WorkflowRepository
	triggers  *repository.TriggerRepository
	log       *logger.Logger
}

// NewWorkflowService creates a workflow service
func NewWorkflowService(workflows *repository.WorkflowRepository, triggers *repository.TriggerRepository, log *logger.Logger) *WorkflowService {
	return &WorkflowService{workflows: workflows, triggers: triggers, log: log}
}

// Create stores a new workflow as a draft. Drafts may hold incomplete
// graphs; structural validation happens at publish.
func (s *WorkflowService) Create(ctx context.Context, tenantID, name string, graph *models.Graph) (*models.Workflow, error) {
	if name == "" {
		return nil, fmt.Errorf("workflow name is required")
	}
	if graph == nil {
		graph = &models.Graph{}
	}

	now := time.Now().UTC()
	wf := &models.Workflow{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		Status:    models.WorkflowDraft,
		Graph:     graph,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.workflows.Create(ctx, wf); err != nil {
		return nil, err
	}

	s.log.WithWorkflowID(wf.ID.String()).Info("workflow created", "name", name)
	return wf, nil
}

// Get loads a workflow by id
func (s *WorkflowService) Get(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	return s.workflows.GetByID(ctx, id)
}

// Publish validates a workflow's graph and makes it executable from
// triggers
func (s *WorkflowService) Publish(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	wf, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if validationErr := engine.ValidateGraph(wf.Graph); validationErr != nil {
		return nil, fmt.Errorf("graph not publishable: %w", validationErr)
	}

	if err := s.workflows.UpdateStatus(ctx, id, models.WorkflowPublished); err != nil {
		return nil, err
	}
	wf.Status = models.WorkflowPublished

	s.log.WithWorkflowID(id.String()).Info("workflow published", "version", wf.Version)
	return wf, nil
}

// Pause stops trigger-driven execution of a workflow
func (s *WorkflowService) Pause(ctx context.Context, id uuid.UUID) error {
	if err := s.workflows.UpdateStatus(ctx, id, models.WorkflowPaused); err != nil {
		return err
	}
	s.log.WithWorkflowID(id.String()).Info("workflow paused")
	return nil
}

// PatchGraph applies an RFC 6902 JSON patch to a workflow's graph and
// bumps the definition version. In-flight runs keep the graph they read
// at job start.
func (s *WorkflowService) PatchGraph(ctx context.Context, id uuid.UUID, patchDoc []byte) (*models.Workflow, error) {
	wf, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	patch, err := jsonpatch.DecodePatch(patchDoc)
	if err != nil {
		return nil, fmt.Errorf("invalid patch document: %w", err)
	}

	current, err := json.Marshal(wf.Graph)
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}

	patched, err := patch.Apply(current)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}

	var graph models.Graph
	if err := json.Unmarshal(patched, &graph); err != nil {
		return nil, fmt.Errorf("patched graph is not a valid graph: %w", err)
	}

	// Published workflows must stay structurally valid; drafts may hold
	// intermediate shapes
	if wf.Status == models.WorkflowPublished {
		if validationErr := engine.ValidateGraph(&graph); validationErr != nil {
			return nil, fmt.Errorf("patched graph not publishable: %w", validationErr)
		}
	}

	if err := s.workflows.UpdateGraph(ctx, id, &graph); err != nil {
		return nil, err
	}
	wf.Graph = &graph
	wf.Version++

	s.log.WithWorkflowID(id.String()).Info("workflow graph patched", "version", wf.Version)
	return wf, nil
}

// BindTrigger attaches an existing trigger to a workflow
func (s *WorkflowService) BindTrigger(ctx context.Context, workflowID, triggerID uuid.UUID) error {
	if _, err := s.triggers.GetByID(ctx, triggerID); err != nil {
		return fmt.Errorf("trigger %s: %w", triggerID, err)
	}
	return s.workflows.BindTrigger(ctx, workflowID, triggerID)
}
