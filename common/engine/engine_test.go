package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veilflow/veilflow/common/clients"
	"github.com/veilflow/veilflow/common/logger"
	"github.com/veilflow/veilflow/common/models"
	"github.com/veilflow/veilflow/common/repository"
)

// --- fakes ---

type fakeRuns struct {
	runs map[uuid.UUID]*models.Run
}

func newFakeRuns(run *models.Run) *fakeRuns {
	return &fakeRuns{runs: map[uuid.UUID]*models.Run{run.ID: run}}
}

func (f *fakeRuns) GetByID(_ context.Context, id uuid.UUID) (*models.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return run, nil
}

func (f *fakeRuns) MarkRunning(_ context.Context, id uuid.UUID) error {
	run := f.runs[id]
	run.Status = models.RunRunning
	run.Attempts++
	return nil
}

func (f *fakeRuns) MarkSucceeded(_ context.Context, id uuid.UUID, result map[string]interface{}) error {
	run := f.runs[id]
	run.Status = models.RunSucceeded
	run.Result = result
	return nil
}

func (f *fakeRuns) MarkFailed(_ context.Context, id uuid.UUID, runErr *models.RunError) error {
	run := f.runs[id]
	run.Status = models.RunFailed
	run.LastError = runErr
	return nil
}

func (f *fakeRuns) MarkExhausted(_ context.Context, id uuid.UUID, runErr *models.RunError) error {
	run := f.runs[id]
	if run.Status == models.RunSucceeded {
		return nil
	}
	run.Status = models.RunFailed
	run.LastError = runErr
	return nil
}

type fakeWorkflows struct {
	workflows map[uuid.UUID]*models.Workflow
}

func (f *fakeWorkflows) GetByID(_ context.Context, id uuid.UUID) (*models.Workflow, error) {
	wf, ok := f.workflows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return wf, nil
}

type fakeConnectors struct {
	connectors map[uuid.UUID]*models.Connector
}

func (f *fakeConnectors) GetDecrypted(_ context.Context, id uuid.UUID) (*models.Connector, error) {
	c, ok := f.connectors[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

type debitRecord struct {
	operation string
	amount    int64
}

type fakeLedger struct {
	balance int64
	debits  []debitRecord
}

func (f *fakeLedger) Balance(context.Context, string) (int64, error) {
	return f.balance, nil
}

func (f *fakeLedger) Debit(_ context.Context, _ string, amount int64, operation string) error {
	if f.balance < amount {
		return repository.ErrInsufficientCredits
	}
	f.balance -= amount
	f.debits = append(f.debits, debitRecord{operation: operation, amount: amount})
	return nil
}

func (f *fakeLedger) totalDebited() int64 {
	var total int64
	for _, d := range f.debits {
		total += d.amount
	}
	return total
}

type fakeChain struct {
	sends []clients.ShieldedSend
}

func (f *fakeChain) SendShielded(_ context.Context, send clients.ShieldedSend) (*clients.ShieldedSendResult, error) {
	f.sends = append(f.sends, send)
	return &clients.ShieldedSendResult{TxID: "tx-1", OperationID: "opid-1"}, nil
}

type fakeVault struct {
	records map[string]interface{}
	stores  int
}

func (f *fakeVault) Store(_ context.Context, collection, key string, value interface{}) (string, error) {
	f.stores++
	f.records[collection+"/"+key] = value
	return collection + "/" + key, nil
}

func (f *fakeVault) Read(_ context.Context, collection, key string) (interface{}, error) {
	value, ok := f.records[collection+"/"+key]
	if !ok {
		return nil, fmt.Errorf("no record %s/%s", collection, key)
	}
	return value, nil
}

type fakeLLM struct {
	calls int
	reply string
}

func (f *fakeLLM) Complete(_ context.Context, _, _, _ string) (*clients.ChatResult, error) {
	f.calls++
	return &clients.ChatResult{Text: f.reply, Model: "test-model"}, nil
}

type fakeAction struct {
	calls  int
	status int
	body   interface{}
}

func (f *fakeAction) Exchange(context.Context, string, string, map[string]string, interface{}) (*clients.ActionResponse, error) {
	f.calls++
	return &clients.ActionResponse{Status: f.status, Body: f.body}, nil
}

// --- harness ---

type harness struct {
	engine *Engine
	runs   *fakeRuns
	ledger *fakeLedger
	chain  *fakeChain
	vault  *fakeVault
	llm    *fakeLLM
	action *fakeAction
	run    *models.Run
}

func newHarness(t *testing.T, graph *models.Graph, payload map[string]interface{}, balance int64) *harness {
	t.Helper()

	workflowID := uuid.New()
	run := &models.Run{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		TenantID:   "t1",
		Payload:    payload,
		Status:     models.RunPending,
	}

	h := &harness{
		runs:   newFakeRuns(run),
		ledger: &fakeLedger{balance: balance},
		chain:  &fakeChain{},
		vault:  &fakeVault{records: make(map[string]interface{})},
		llm:    &fakeLLM{reply: "hello from llm"},
		action: &fakeAction{status: 200, body: "ok"},
		run:    run,
	}

	workflows := &fakeWorkflows{workflows: map[uuid.UUID]*models.Workflow{
		workflowID: {ID: workflowID, TenantID: "t1", Status: models.WorkflowPublished, Graph: graph},
	}}

	evaluator := NewConditionEvaluator()
	registry := NewRegistry()
	registry.Register(&PayloadInputHandler{})
	registry.Register(&JSONExtractHandler{})
	registry.Register(&MemoParserHandler{})
	registry.Register(NewIfElseHandler(evaluator))
	registry.Register(NewStateStoreHandler(h.vault))
	registry.Register(NewStateReadHandler(h.vault))
	registry.Register(NewLLMHandler(h.llm))
	registry.Register(NewChainSendHandler(h.chain))
	registry.Register(NewConnectorRequestHandler(h.action))
	registry.Register(NewCustomHTTPHandler(h.action))

	log := logger.New("error", "text")
	h.engine = New(h.runs, workflows, &fakeConnectors{}, h.ledger, registry, log)
	return h
}

func outputs(t *testing.T, run *models.Run) map[string]interface{} {
	t.Helper()
	out, ok := run.Result["outputs"].(map[string]interface{})
	require.True(t, ok, "result has no outputs map")
	return out
}

// --- tests ---

func TestExecuteLinearShieldedPayout(t *testing.T) {
	graph := &models.Graph{
		Nodes: []models.Node{
			{ID: "a", BlockID: "payload-input", Alias: "in"},
			{ID: "b", BlockID: "json-extract", Alias: "amt", Data: map[string]interface{}{
				"source": "payload",
				"path":   "amount",
			}},
			{ID: "c", BlockID: "zcash-send", Data: map[string]interface{}{
				"amountPath":      "amt",
				"fallbackAddress": "zs1xfallback",
			}},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "c"},
		},
	}

	h := newHarness(t, graph, map[string]interface{}{"amount": "1.5"}, 100)

	err := h.engine.Execute(context.Background(), h.run.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunSucceeded, h.run.Status)
	assert.Equal(t, "1.5", outputs(t, h.run)["amt"])

	require.Len(t, h.chain.sends, 1)
	assert.Equal(t, 1.5, h.chain.sends[0].Amount)
	assert.Equal(t, "zs1xfallback", h.chain.sends[0].To)
	assert.Equal(t, h.run.ID.String()+":c", h.chain.sends[0].IdempotencyKey)

	// 1 for the run, 2 for the send
	assert.Equal(t, int64(3), h.ledger.totalDebited())
	assert.Equal(t, true, h.run.Result["shielded"])
}

func TestExecuteConditionalBranch(t *testing.T) {
	graph := &models.Graph{
		Nodes: []models.Node{
			{ID: "a", BlockID: "payload-input", Alias: "in"},
			{ID: "b", BlockID: "state-read", Alias: "rec", Data: map[string]interface{}{
				"keyPath": "in.key",
			}},
			{ID: "c", BlockID: "logic-if-else", Data: map[string]interface{}{
				"conditionPath": "rec.approved",
			}},
			{ID: "d", BlockID: "nilai-llm", Alias: "llmOut", Data: map[string]interface{}{
				"promptTemplate": "Greet {{rec.name}}",
			}},
			{ID: "e", BlockID: "custom-http-action", Data: map[string]interface{}{
				"url":           "https://example.com/notify",
				"responseAlias": "notifyOut",
			}},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "c"},
			{ID: "e3", Source: "c", Target: "d", SourceHandle: "true"},
			{ID: "e4", Source: "c", Target: "e", SourceHandle: "false"},
		},
	}

	h := newHarness(t, graph, map[string]interface{}{"key": "k1"}, 100)
	h.vault.records["default/k1"] = map[string]interface{}{"approved": true, "name": "Ada"}

	err := h.engine.Execute(context.Background(), h.run.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunSucceeded, h.run.Status)
	assert.Equal(t, 1, h.llm.calls)
	assert.Equal(t, 0, h.action.calls, "false branch must not execute")

	out := outputs(t, h.run)
	assert.Contains(t, out, "rec")
	assert.Contains(t, out, "llmOut")
	assert.NotContains(t, out, "notifyOut")

	// 1 run + 1 read + 10 llm
	assert.Equal(t, int64(12), h.ledger.totalDebited())
}

func TestExecuteInsufficientCreditsPreflight(t *testing.T) {
	graph := &models.Graph{
		Nodes: []models.Node{
			{ID: "a", BlockID: "nilai-llm", Data: map[string]interface{}{
				"promptTemplate": "Say hi",
			}},
		},
	}

	// Cost is 1 + 10, balance is 2
	h := newHarness(t, graph, nil, 2)

	err := h.engine.Execute(context.Background(), h.run.ID)
	require.Error(t, err)

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindInsufficientCredits, execErr.Kind)
	assert.False(t, execErr.Retryable())

	assert.Equal(t, models.RunFailed, h.run.Status)
	require.NotNil(t, h.run.LastError)
	assert.Equal(t, string(KindInsufficientCredits), h.run.LastError.Kind)

	assert.Empty(t, h.ledger.debits, "preflight failure must not debit")
	assert.Equal(t, 0, h.llm.calls, "llm must never be called")
}

func TestExecuteUnknownBlockIsFatal(t *testing.T) {
	graph := &models.Graph{
		Nodes: []models.Node{{ID: "a", BlockID: "no-such-block"}},
	}
	h := newHarness(t, graph, nil, 100)

	err := h.engine.Execute(context.Background(), h.run.ID)
	require.Error(t, err)

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindUnknownBlock, execErr.Kind)
	assert.False(t, execErr.Retryable())
	assert.Empty(t, h.ledger.debits)
}

func TestExecuteTerminalRunShortCircuits(t *testing.T) {
	graph := &models.Graph{
		Nodes: []models.Node{{ID: "a", BlockID: "payload-input"}},
	}
	h := newHarness(t, graph, nil, 100)
	h.run.Status = models.RunSucceeded
	h.run.Result = map[string]interface{}{"outputs": map[string]interface{}{}}

	err := h.engine.Execute(context.Background(), h.run.ID)
	require.NoError(t, err)
	assert.Empty(t, h.ledger.debits, "terminal run must not re-execute")
}

func TestExecuteRunIfGateSkipsNode(t *testing.T) {
	graph := &models.Graph{
		Nodes: []models.Node{
			{ID: "a", BlockID: "payload-input", Alias: "in"},
			{ID: "b", BlockID: "zcash-send", Data: map[string]interface{}{
				"runIfPath":       "payload.send",
				"runIfEquals":     "yes",
				"amountPath":      "payload.amount",
				"fallbackAddress": "zs1xfallback",
			}},
		},
		Edges: []models.Edge{{ID: "e1", Source: "a", Target: "b"}},
	}

	h := newHarness(t, graph, map[string]interface{}{"send": "no", "amount": 2.0}, 100)

	err := h.engine.Execute(context.Background(), h.run.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunSucceeded, h.run.Status)
	assert.Empty(t, h.chain.sends, "gated node must not send")
	// Only the run itself is debited
	assert.Equal(t, int64(1), h.ledger.totalDebited())
}

func TestExecuteActionErrorStatusClassified(t *testing.T) {
	graph := &models.Graph{
		Nodes: []models.Node{
			{ID: "a", BlockID: "custom-http-action", Data: map[string]interface{}{
				"url": "https://example.com/flaky",
			}},
		},
	}

	h := newHarness(t, graph, nil, 100)
	h.action.status = 503

	err := h.engine.Execute(context.Background(), h.run.ID)
	require.Error(t, err)

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindHandlerTransient, execErr.Kind)
	assert.True(t, execErr.Retryable())
	assert.Equal(t, "a", execErr.NodeID)
	assert.Equal(t, models.RunFailed, h.run.Status)
}

func TestExecuteRetryableFailureReexecutesOnRedelivery(t *testing.T) {
	graph := &models.Graph{
		Nodes: []models.Node{
			{ID: "a", BlockID: "custom-http-action", Data: map[string]interface{}{
				"url":           "https://example.com/flaky",
				"responseAlias": "out",
			}},
		},
	}

	h := newHarness(t, graph, nil, 100)
	h.action.status = 503

	// Two deliveries hit an unavailable upstream; each leaves the run
	// failed but eligible for redelivery
	for i := 0; i < 2; i++ {
		err := h.engine.Execute(context.Background(), h.run.ID)
		require.Error(t, err)
		assert.Equal(t, models.RunFailed, h.run.Status)
		require.NotNil(t, h.run.LastError)
		assert.True(t, h.run.LastError.Retryable)
	}

	// Third delivery finds the upstream recovered
	h.action.status = 200
	err := h.engine.Execute(context.Background(), h.run.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunSucceeded, h.run.Status)
	assert.Equal(t, 3, h.run.Attempts)
	assert.Equal(t, 3, h.action.calls)
	assert.Equal(t, "ok", outputs(t, h.run)["out"])
}

func TestExecuteFatalFailureNeverReexecutes(t *testing.T) {
	graph := &models.Graph{
		Nodes: []models.Node{
			{ID: "a", BlockID: "custom-http-action", Data: map[string]interface{}{
				"url": "https://example.com/gone",
			}},
		},
	}

	h := newHarness(t, graph, nil, 100)
	h.action.status = 404

	err := h.engine.Execute(context.Background(), h.run.ID)
	require.Error(t, err)
	assert.Equal(t, models.RunFailed, h.run.Status)
	require.NotNil(t, h.run.LastError)
	assert.False(t, h.run.LastError.Retryable)

	// A stray redelivery short-circuits
	err = h.engine.Execute(context.Background(), h.run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.action.calls)
	assert.Equal(t, 1, h.run.Attempts)
}

func TestAbandonParksRunAsFailed(t *testing.T) {
	graph := &models.Graph{
		Nodes: []models.Node{
			{ID: "a", BlockID: "custom-http-action", Data: map[string]interface{}{
				"url": "https://example.com/flaky",
			}},
		},
	}

	h := newHarness(t, graph, nil, 100)
	h.action.status = 503

	err := h.engine.Execute(context.Background(), h.run.ID)
	require.Error(t, err)
	require.True(t, h.run.CanRetry())

	// The queue gave up; the run must stop being redeliverable
	h.engine.Abandon(context.Background(), h.run.ID, err)

	assert.Equal(t, models.RunFailed, h.run.Status)
	require.NotNil(t, h.run.LastError)
	assert.False(t, h.run.LastError.Retryable)
	assert.False(t, h.run.CanRetry())

	before := h.action.calls
	require.NoError(t, h.engine.Execute(context.Background(), h.run.ID))
	assert.Equal(t, before, h.action.calls)
}

func TestExecuteMidRunExhaustionIsFatal(t *testing.T) {
	graph := &models.Graph{
		Nodes: []models.Node{
			{ID: "a", BlockID: "state-store", Data: map[string]interface{}{
				"key":   "k1",
				"value": "v",
			}},
			{ID: "b", BlockID: "nilai-llm", Data: map[string]interface{}{
				"promptTemplate": "Say hi",
			}},
		},
		Edges: []models.Edge{{ID: "e1", Source: "a", Target: "b"}},
	}

	// Preflight sees a full balance, then a concurrent spender drains one
	// credit before the llm debit
	h := newHarness(t, graph, nil, 12)
	h.engine.ledger = &drainingLedger{inner: h.ledger, drainAfter: 2}

	err := h.engine.Execute(context.Background(), h.run.ID)
	require.Error(t, err)

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindCreditExhausted, execErr.Kind)
	assert.False(t, execErr.Retryable())
	assert.Equal(t, "b", execErr.NodeID)
	assert.Equal(t, models.RunFailed, h.run.Status)
}

// drainingLedger steals the remaining balance after a number of debits,
// imitating a concurrent spender
type drainingLedger struct {
	inner      *fakeLedger
	drainAfter int
	debits     int
}

func (d *drainingLedger) Balance(ctx context.Context, tenantID string) (int64, error) {
	return d.inner.Balance(ctx, tenantID)
}

func (d *drainingLedger) Debit(ctx context.Context, tenantID string, amount int64, operation string) error {
	if d.debits >= d.drainAfter {
		d.inner.balance = 0
	}
	d.debits++
	return d.inner.Debit(ctx, tenantID, amount, operation)
}
