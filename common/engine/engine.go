package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/veilflow/veilflow/common/logger"
	"github.com/veilflow/veilflow/common/metrics"
	"github.com/veilflow/veilflow/common/models"
	"github.com/veilflow/veilflow/common/paths"
	"github.com/veilflow/veilflow/common/repository"
)

// Engine executes workflow runs. Safe for concurrent use across distinct
// run ids; re-invocation for the same run id is tolerated (terminal runs
// short-circuit).
type Engine struct {
	runs       RunStore
	workflows  WorkflowStore
	connectors ConnectorSource
	ledger     CreditLedger
	registry   *Registry
	log        *logger.Logger
}

// New creates an engine
func New(runs RunStore, workflows WorkflowStore, connectors ConnectorSource, ledger CreditLedger, registry *Registry, log *logger.Logger) *Engine {
	return &Engine{
		runs:       runs,
		workflows:  workflows,
		connectors: connectors,
		ledger:     ledger,
		registry:   registry,
		log:        log,
	}
}

// Execute runs one workflow run to a terminal status. The returned error
// carries retryability for the queue: only handler_transient failures are
// redelivered.
func (e *Engine) Execute(ctx context.Context, runID uuid.UUID) error {
	start := time.Now()
	log := e.log.WithRunID(runID.String())

	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	// Redelivery of a retryably-failed run re-enters running; only
	// successes and fatal failures short-circuit
	if run.IsTerminal() && !run.CanRetry() {
		log.Info("run already terminal, skipping", "status", run.Status)
		return nil
	}

	if err := e.runs.MarkRunning(ctx, runID); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}

	workflow, err := e.workflows.GetByID(ctx, run.WorkflowID)
	if errors.Is(err, repository.ErrNotFound) {
		return e.failRun(ctx, log, start, runID, Errf(KindGraphMissing, "workflow %s not found", run.WorkflowID))
	}
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if workflow.Graph.IsEmpty() {
		return e.failRun(ctx, log, start, runID, Errf(KindGraphMissing, "workflow %s has no graph", run.WorkflowID))
	}
	graph := workflow.Graph

	if execErr := e.preflight(ctx, run, graph); execErr != nil {
		return e.failRun(ctx, log, start, runID, execErr)
	}

	if execErr := ValidateGraph(graph); execErr != nil {
		return e.failRun(ctx, log, start, runID, execErr)
	}
	order, execErr := TopologicalOrder(graph)
	if execErr != nil {
		return e.failRun(ctx, log, start, runID, execErr)
	}

	// The run itself costs one credit before any block executes
	if err := e.debit(ctx, run.TenantID, RunPrice, "workflow-run"); err != nil {
		return e.failRun(ctx, log, start, runID, err)
	}

	result, execErr := e.walk(ctx, log, run, graph, order)
	if execErr != nil {
		return e.failRun(ctx, log, start, runID, execErr)
	}

	if err := e.runs.MarkSucceeded(ctx, runID, result); err != nil {
		return fmt.Errorf("mark run succeeded: %w", err)
	}

	metrics.RunsCompleted.WithLabelValues(string(models.RunSucceeded)).Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	log.Info("run succeeded", "duration", time.Since(start))
	return nil
}

// preflight verifies every block is known and the tenant can afford the
// whole run before anything is debited
func (e *Engine) preflight(ctx context.Context, run *models.Run, graph *models.Graph) *Error {
	cost := RunPrice
	for _, node := range graph.Nodes {
		if _, ok := e.registry.Get(node.BlockID); !ok {
			return &Error{Kind: KindUnknownBlock, Message: fmt.Sprintf("no handler for block %q", node.BlockID), NodeID: node.ID}
		}
		cost += BlockPrice(node.BlockID)
	}

	balance, err := e.ledger.Balance(ctx, run.TenantID)
	if err != nil {
		return Transient(fmt.Errorf("read balance: %w", err))
	}
	if balance < cost {
		return Errf(KindInsufficientCredits, "run costs %d credits, balance is %d", cost, balance)
	}

	return nil
}

// walk executes the graph in topological order and assembles the result
func (e *Engine) walk(ctx context.Context, log *logger.Logger, run *models.Run, graph *models.Graph, order []string) (map[string]interface{}, *Error) {
	memory := map[string]interface{}{"payload": run.Payload}

	skipped := make(map[string]bool)
	inactiveEdges := make(map[string]bool)
	globals := make(map[string]interface{})
	var attestations []interface{}
	var lastKey string

	for _, nodeID := range order {
		node, _ := graph.NodeByID(nodeID)
		nodeLog := log.WithNodeID(nodeID)

		if e.gatedOff(graph, node, skipped, inactiveEdges) {
			skipped[nodeID] = true
			nodeLog.Debug("node gated off by branch selection")
			continue
		}

		if gate, ok := runIfGate(node, memory); ok && !gate {
			// Run-if skips do not propagate downstream
			nodeLog.Debug("node skipped by run-if gate")
			continue
		}

		handler, _ := e.registry.Get(node.BlockID)
		req, execErr := e.buildRequest(ctx, run, node, graph, memory, skipped, inactiveEdges, handler)
		if execErr != nil {
			return nil, execErr.WithNode(nodeID)
		}

		blockStart := time.Now()
		out, execErr := handler.Execute(ctx, req)
		metrics.BlockDuration.WithLabelValues(node.BlockID).Observe(time.Since(blockStart).Seconds())
		if execErr != nil {
			return nil, execErr.WithNode(nodeID)
		}

		if price := BlockPrice(node.BlockID); price > 0 {
			if err := e.debit(ctx, run.TenantID, price, node.BlockID); err != nil {
				if err.Kind == KindInsufficientCredits {
					err = Errf(KindCreditExhausted, "%s", err.Message)
				}
				return nil, err.WithNode(nodeID)
			}
		}

		lastKey = node.OutputKey()
		memory[lastKey] = out.Value

		if out.SelectedHandle != "" {
			deactivateUnselected(graph, node.ID, out.SelectedHandle, inactiveEdges)
		}
		for k, v := range out.Globals {
			if k == "attestation" {
				attestations = append(attestations, v)
				continue
			}
			globals[k] = v
		}
	}

	result := map[string]interface{}{
		"outputs": memory,
	}
	if lastKey != "" {
		result["final"] = memory[lastKey]
	}
	for k, v := range globals {
		result[k] = v
	}
	if len(attestations) > 0 {
		result["attestations"] = attestations
	}

	return result, nil
}

// gatedOff reports whether every incoming edge is deactivated or comes
// from a skipped node. Nodes with no incoming edges always run.
func (e *Engine) gatedOff(graph *models.Graph, node *models.Node, skipped, inactiveEdges map[string]bool) bool {
	incoming := 0
	for _, edge := range graph.Edges {
		if edge.Target != node.ID {
			continue
		}
		incoming++
		if !inactiveEdges[edge.ID] && !skipped[edge.Source] {
			return false
		}
	}
	return incoming > 0
}

// runIfGate evaluates the optional runIfPath/runIfEquals gate. The first
// return is the gate verdict, the second whether a gate is configured.
// A path that does not resolve fails the gate.
func runIfGate(node *models.Node, memory map[string]interface{}) (bool, bool) {
	path, ok := node.Data["runIfPath"].(string)
	if !ok || path == "" {
		return true, false
	}

	expected, hasExpected := node.Data["runIfEquals"]
	value, found := paths.Lookup(memory, path)
	if !found {
		return false, true
	}
	if !hasExpected {
		return truthy(value), true
	}
	return looseEqual(value, expected), true
}

func (e *Engine) buildRequest(ctx context.Context, run *models.Run, node *models.Node, graph *models.Graph, memory map[string]interface{}, skipped, inactiveEdges map[string]bool, handler Handler) (*Request, *Error) {
	req := &Request{
		RunID:   run.ID,
		Node:    node,
		Raw:     node.Data,
		Config:  resolveConfig(node.Data, memory),
		Payload: run.Payload,
		Memory:  memory,
		Inputs:  collectInputs(graph, node, memory, skipped, inactiveEdges),
	}

	if node.Connector != "" {
		connectorID, err := uuid.Parse(node.Connector)
		if err != nil {
			return nil, Errf(KindConfigInvalid, "node connector %q is not a valid id", node.Connector)
		}
		connector, err := e.connectors.GetDecrypted(ctx, connectorID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Errf(KindConfigInvalid, "connector %s not found", connectorID)
		}
		if err != nil {
			return nil, Transient(fmt.Errorf("load connector: %w", err))
		}
		req.Connector = connector
	}

	if handler.NeedsConnector() && req.Connector == nil {
		return nil, Errf(KindConfigInvalid, "block %q requires a connector", node.BlockID)
	}

	return req, nil
}

// resolveConfig dereferences path-valued config keys against run memory.
// Keys that do not resolve are omitted; handlers decide whether a missing
// value is fatal.
func resolveConfig(data, memory map[string]interface{}) map[string]interface{} {
	resolved := make(map[string]interface{}, len(data))
	for key, value := range data {
		s, isString := value.(string)
		if !isString || !paths.IsPathKey(key) {
			resolved[key] = value
			continue
		}
		if v, found := paths.Lookup(memory, s); found {
			resolved[key] = v
		}
	}
	return resolved
}

// collectInputs maps each active incoming edge's targetHandle (or source
// node id) to the upstream output
func collectInputs(graph *models.Graph, node *models.Node, memory map[string]interface{}, skipped, inactiveEdges map[string]bool) map[string]interface{} {
	inputs := make(map[string]interface{})
	for _, edge := range graph.Edges {
		if edge.Target != node.ID || inactiveEdges[edge.ID] || skipped[edge.Source] {
			continue
		}
		source, ok := graph.NodeByID(edge.Source)
		if !ok {
			continue
		}
		value, bound := memory[source.OutputKey()]
		if !bound {
			continue
		}
		handle := edge.TargetHandle
		if handle == "" {
			handle = edge.Source
		}
		inputs[handle] = value
	}
	return inputs
}

// deactivateUnselected turns off outgoing edges on handles other than the
// one a branching block selected
func deactivateUnselected(graph *models.Graph, nodeID, selected string, inactiveEdges map[string]bool) {
	for _, edge := range graph.Edges {
		if edge.Source != nodeID {
			continue
		}
		if edge.SourceHandle != "" && edge.SourceHandle != selected {
			inactiveEdges[edge.ID] = true
		}
	}
}

func (e *Engine) debit(ctx context.Context, tenantID string, amount int64, operation string) *Error {
	err := e.ledger.Debit(ctx, tenantID, amount, operation)
	if errors.Is(err, repository.ErrInsufficientCredits) {
		return Errf(KindInsufficientCredits, "debit of %d for %s exceeds balance", amount, operation)
	}
	if err != nil {
		return Transient(fmt.Errorf("debit %s: %w", operation, err))
	}
	metrics.CreditsDebited.WithLabelValues(operation).Add(float64(amount))
	return nil
}

// Abandon finalizes a run whose job has exhausted its delivery attempts.
// The persisted error is marked non-retryable so no later redelivery can
// re-enter the run.
func (e *Engine) Abandon(ctx context.Context, runID uuid.UUID, cause error) {
	runErr := &models.RunError{Kind: string(KindHandlerTransient), Message: cause.Error()}
	var execErr *Error
	if errors.As(cause, &execErr) {
		runErr = execErr.ToRunError()
	}
	runErr.Retryable = false

	if err := e.runs.MarkExhausted(ctx, runID, runErr); err != nil {
		e.log.WithRunID(runID.String()).Error("failed to park exhausted run", "error", err)
	}
}

func (e *Engine) failRun(ctx context.Context, log *logger.Logger, start time.Time, runID uuid.UUID, execErr *Error) error {
	if err := e.runs.MarkFailed(ctx, runID, execErr.ToRunError()); err != nil {
		log.Error("failed to persist run failure", "error", err)
	}

	metrics.RunsCompleted.WithLabelValues(string(models.RunFailed)).Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	log.Warn("run failed",
		"kind", execErr.Kind,
		"node_id", execErr.NodeID,
		"retryable", execErr.Retryable(),
		"error", execErr.Message,
	)
	return execErr
}
