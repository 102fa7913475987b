package engine

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/veilflow/veilflow/common/models"
)

// Request carries everything a block handler needs for one node
type Request struct {
	RunID uuid.UUID
	Node  *models.Node

	// Config is the node's data with path-valued keys dereferenced against
	// memory. Raw is the untouched node data for handlers that interpret
	// paths themselves.
	Config map[string]interface{}
	Raw    map[string]interface{}

	// Payload is the trigger payload; Memory is the full run memory
	// (payload plus every bound output so far)
	Payload map[string]interface{}
	Memory  map[string]interface{}

	// Inputs maps targetHandle (or source node id) to the upstream output
	// delivered over each active incoming edge
	Inputs map[string]interface{}

	// Connector is the decrypted connector, when the node references one
	Connector *models.Connector
}

// Output is a handler's result for one node
type Output struct {
	// Value binds into memory under the node's output key
	Value interface{}

	// SelectedHandle names the output port taken by a branching block;
	// edges off other handles are deactivated
	SelectedHandle string

	// Globals merge into the run result's top level (stateKey, shielded,
	// attestations)
	Globals map[string]interface{}
}

// Handler executes one block type
type Handler interface {
	// BlockID is the block type this handler serves
	BlockID() string

	// NeedsConnector reports whether the node must reference a connector
	NeedsConnector() bool

	// Execute runs the block. Failures must be *Error so the engine can
	// classify them for retry.
	Execute(ctx context.Context, req *Request) (*Output, *Error)
}

// Registry maps block ids to handlers
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler; later registrations for the same block win
func (r *Registry) Register(h Handler) {
	r.handlers[h.BlockID()] = h
}

// Get returns the handler for a block id
func (r *Registry) Get(blockID string) (Handler, bool) {
	h, ok := r.handlers[blockID]
	return h, ok
}

// BlockIDs returns the registered block ids, sorted
func (r *Registry) BlockIDs() []string {
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunStore is the run persistence the engine needs
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, id uuid.UUID, result map[string]interface{}) error
	MarkFailed(ctx context.Context, id uuid.UUID, runErr *models.RunError) error
	MarkExhausted(ctx context.Context, id uuid.UUID, runErr *models.RunError) error
}

// WorkflowStore loads workflow definitions
type WorkflowStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
}

// ConnectorSource loads decrypted connectors at point of use
type ConnectorSource interface {
	GetDecrypted(ctx context.Context, id uuid.UUID) (*models.Connector, error)
}

// CreditLedger debits tenant credits; insufficiency is reported via
// repository.ErrInsufficientCredits
type CreditLedger interface {
	Balance(ctx context.Context, tenantID string) (int64, error)
	Debit(ctx context.Context, tenantID string, amount int64, operation string) error
}
