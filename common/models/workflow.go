package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus represents the lifecycle state of a workflow
type WorkflowStatus string

const (
	WorkflowDraft     WorkflowStatus = "draft"
	WorkflowPublished WorkflowStatus = "published"
	WorkflowPaused    WorkflowStatus = "paused"
)

// Workflow is a stored workflow definition.
// Only published workflows execute from triggers; drafts may execute via
// manual test. The graph a run uses is the graph read at job start.
type Workflow struct {
	ID       uuid.UUID      `db:"id" json:"id"`
	TenantID string         `db:"tenant_id" json:"tenant_id"`
	Name     string         `db:"name" json:"name"`
	Status   WorkflowStatus `db:"status" json:"status"`

	// Optional bound trigger and dataset
	TriggerID *uuid.UUID `db:"trigger_id" json:"trigger_id,omitempty"`
	DatasetID *uuid.UUID `db:"dataset_id" json:"dataset_id,omitempty"`

	Graph *Graph `db:"graph" json:"graph"`

	// Monotonically increasing definition version
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Executable reports whether trigger-driven execution is allowed
func (w *Workflow) Executable() bool {
	return w.Status == WorkflowPublished
}
