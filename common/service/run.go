// Package service holds the application logic between the HTTP handlers
// / trigger supervisors and the repositories.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/veilflow/veilflow/common/logger"
	"github.com/veilflow/veilflow/common/metrics"
	"github.com/veilflow/veilflow/common/models"
	"github.com/veilflow/veilflow/common/queue"
	"github.com/veilflow/veilflow/common/repository"
)

// RunService creates runs and hands them to the durable queue
type RunService struct {
	runs  *repository.RunRepository
	queue *queue.Queue
	log   *logger.Logger
}

// NewRunService creates a run service
func NewRunService(runs *repository.RunRepository, q *queue.Queue, log *logger.Logger) *RunService {
	return &RunService{runs: runs, queue: q, log: log}
}

// CreateRun persists a pending run for a workflow and enqueues it.
// source labels where the submission came from (api, webhook, schedule,
// chain-watch, http-poll, social-poll).
func (s *RunService) CreateRun(ctx context.Context, workflow *models.Workflow, triggerID *uuid.UUID, payload map[string]interface{}, source string) (*models.Run, error) {
	run := &models.Run{
		ID:         uuid.New(),
		WorkflowID: workflow.ID,
		TriggerID:  triggerID,
		TenantID:   workflow.TenantID,
		Payload:    payload,
		Status:     models.RunPending,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	var opts *queue.Options
	if hasChainSend(workflow.Graph) {
		// Whole-run retries re-execute every node; the wallet has no
		// durable idempotency, so chain-bearing runs get a single attempt
		opts = &queue.Options{Attempts: 1}
	}

	jobID, err := s.queue.Enqueue(ctx, run.ID, opts)
	if err != nil {
		return nil, fmt.Errorf("enqueue run: %w", err)
	}

	metrics.RunsCreated.WithLabelValues(source).Inc()
	s.log.WithRunID(run.ID.String()).Info("run created",
		"workflow_id", workflow.ID,
		"job_id", jobID,
		"source", source)

	return run, nil
}

// GetRun loads a run by id
func (s *RunService) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	return s.runs.GetByID(ctx, id)
}

// ListRuns lists a workflow's runs, newest first
func (s *RunService) ListRuns(ctx context.Context, workflowID uuid.UUID, limit int) ([]*models.Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.runs.ListByWorkflow(ctx, workflowID, limit)
}

func hasChainSend(graph *models.Graph) bool {
	if graph == nil {
		return false
	}
	for _, node := range graph.Nodes {
		if node.BlockID == "zcash-send" {
			return true
		}
	}
	return false
}
