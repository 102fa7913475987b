package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the status of a workflow run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunError is the structured failure carried on a failed run.
// Secret material never appears in Message; the run store masks it.
type RunError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	NodeID    string `json:"nodeId,omitempty"`
	Retryable bool   `json:"retryable"`
}

// Run is one execution of a workflow, persisted from creation through
// terminal status. Created pending; pending -> running -> succeeded|failed.
// Never mutated after terminal.
type Run struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	WorkflowID uuid.UUID  `db:"workflow_id" json:"workflow_id"`
	TriggerID  *uuid.UUID `db:"trigger_id" json:"trigger_id,omitempty"`
	TenantID   string     `db:"tenant_id" json:"tenant_id"`

	Payload map[string]interface{} `db:"payload" json:"payload,omitempty"`
	Status  RunStatus              `db:"status" json:"status"`

	// Terminal result: per-node outputs plus optional global fields
	// (stateKey, shielded, attestations)
	Result map[string]interface{} `db:"result" json:"result,omitempty"`

	Attempts  int       `db:"attempts" json:"attempts"`
	LastError *RunError `db:"last_error" json:"last_error,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	StartedAt *time.Time `db:"started_at" json:"started_at,omitempty"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// IsTerminal reports whether the run has reached a final status
func (r *Run) IsTerminal() bool {
	return r.Status == RunSucceeded || r.Status == RunFailed
}

// CanRetry reports whether a failed run may re-enter running: its last
// error must be retryable. The queue owns the attempt cap; a run whose
// job has been parked simply never gets redelivered.
func (r *Run) CanRetry() bool {
	return r.Status == RunFailed && r.LastError != nil && r.LastError.Retryable
}
