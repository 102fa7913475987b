package triggers

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veilflow/veilflow/common/clients"
	"github.com/veilflow/veilflow/common/logger"
	"github.com/veilflow/veilflow/common/models"
)

type fakeTriggerSource struct {
	triggers []*models.Trigger
}

func (f *fakeTriggerSource) ListActiveByType(ctx context.Context, t models.TriggerType) ([]*models.Trigger, error) {
	var out []*models.Trigger
	for _, trg := range f.triggers {
		if trg.Type == t {
			out = append(out, trg)
		}
	}
	return out, nil
}

type fakeWorkflowSource struct {
	workflow *models.Workflow
}

func (f *fakeWorkflowSource) GetPublishedByTrigger(ctx context.Context, triggerID uuid.UUID) (*models.Workflow, error) {
	return f.workflow, nil
}

func (f *fakeWorkflowSource) ListPublishedByTriggerType(ctx context.Context, t models.TriggerType) ([]*models.Workflow, error) {
	return []*models.Workflow{f.workflow}, nil
}

type createdRun struct {
	workflowID uuid.UUID
	payload    map[string]interface{}
	source     string
}

type fakeRunCreator struct {
	created []createdRun
}

func (f *fakeRunCreator) CreateRun(ctx context.Context, wf *models.Workflow, triggerID *uuid.UUID, payload map[string]interface{}, source string) (*models.Run, error) {
	f.created = append(f.created, createdRun{workflowID: wf.ID, payload: payload, source: source})
	return &models.Run{ID: uuid.New(), WorkflowID: wf.ID, Payload: payload}, nil
}

type fakeChainLister struct {
	txs []clients.ReceivedTx
}

func (f *fakeChainLister) ListReceived(ctx context.Context, address string, minConf int) ([]clients.ReceivedTx, error) {
	return f.txs, nil
}

func memoHex(s string) string {
	return hex.EncodeToString([]byte(s))
}

func chainTrigger(config map[string]interface{}) *models.Trigger {
	return &models.Trigger{
		ID:     uuid.New(),
		Type:   models.TriggerChainMemo,
		Config: config,
		Status: models.TriggerActive,
	}
}

func TestChainWatcherFiresOncePerTxid(t *testing.T) {
	trigger := chainTrigger(map[string]interface{}{"address": "zs1watch"})
	chain := &fakeChainLister{txs: []clients.ReceivedTx{
		{TxID: "tx-1", Amount: 2.5, MemoHex: memoHex("order:42"), Confirmations: 3},
	}}
	runs := &fakeRunCreator{}
	wf := &models.Workflow{ID: uuid.New(), Status: models.WorkflowPublished}

	w := NewChainWatcher(
		&fakeTriggerSource{triggers: []*models.Trigger{trigger}},
		&fakeWorkflowSource{workflow: wf},
		runs, chain, logger.New("error", "text"))

	w.Poll(context.Background())
	require.Len(t, runs.created, 1)
	assert.Equal(t, "chain-watch", runs.created[0].source)
	assert.Equal(t, "tx-1", runs.created[0].payload["txid"])
	assert.Equal(t, 2.5, runs.created[0].payload["amount"])
	assert.Equal(t, "order:42", runs.created[0].payload["memo"])
	assert.Equal(t, "zs1watch", runs.created[0].payload["address"])

	// The same transaction seen on later cycles never refires
	w.Poll(context.Background())
	w.Poll(context.Background())
	assert.Len(t, runs.created, 1)

	// A new transaction still fires
	chain.txs = append(chain.txs, clients.ReceivedTx{
		TxID: "tx-2", Amount: 1, MemoHex: memoHex("order:43"), Confirmations: 1,
	})
	w.Poll(context.Background())
	require.Len(t, runs.created, 2)
	assert.Equal(t, "tx-2", runs.created[1].payload["txid"])
}

func TestChainWatcherMemoPatternFilter(t *testing.T) {
	trigger := chainTrigger(map[string]interface{}{
		"address":     "zs1watch",
		"memoPattern": "invoice",
	})
	chain := &fakeChainLister{txs: []clients.ReceivedTx{
		{TxID: "tx-a", Amount: 1, MemoHex: memoHex("greetings")},
		{TxID: "tx-b", Amount: 1, MemoHex: memoHex("invoice:77")},
	}}
	runs := &fakeRunCreator{}

	w := NewChainWatcher(
		&fakeTriggerSource{triggers: []*models.Trigger{trigger}},
		&fakeWorkflowSource{workflow: &models.Workflow{ID: uuid.New()}},
		runs, chain, logger.New("error", "text"))

	w.Poll(context.Background())
	require.Len(t, runs.created, 1)
	assert.Equal(t, "invoice:77", runs.created[0].payload["memo"])

	// Filtered txids are remembered too
	w.Poll(context.Background())
	assert.Len(t, runs.created, 1)
}

func TestChainWatcherMinAmountFilter(t *testing.T) {
	trigger := chainTrigger(map[string]interface{}{
		"address":   "zs1watch",
		"minAmount": 1.0,
	})
	chain := &fakeChainLister{txs: []clients.ReceivedTx{
		{TxID: "tx-small", Amount: 0.1, MemoHex: memoHex("x")},
		{TxID: "tx-big", Amount: 5, MemoHex: memoHex("y")},
	}}
	runs := &fakeRunCreator{}

	w := NewChainWatcher(
		&fakeTriggerSource{triggers: []*models.Trigger{trigger}},
		&fakeWorkflowSource{workflow: &models.Workflow{ID: uuid.New()}},
		runs, chain, logger.New("error", "text"))

	w.Poll(context.Background())
	require.Len(t, runs.created, 1)
	assert.Equal(t, "tx-big", runs.created[0].payload["txid"])
}

func TestChainWatcherSkipsTriggerWithoutAddress(t *testing.T) {
	trigger := chainTrigger(map[string]interface{}{})
	chain := &fakeChainLister{txs: []clients.ReceivedTx{
		{TxID: "tx-1", Amount: 1, MemoHex: memoHex("x")},
	}}
	runs := &fakeRunCreator{}

	w := NewChainWatcher(
		&fakeTriggerSource{triggers: []*models.Trigger{trigger}},
		&fakeWorkflowSource{workflow: &models.Workflow{ID: uuid.New()}},
		runs, chain, logger.New("error", "text"))

	w.Poll(context.Background())
	assert.Empty(t, runs.created)
}
