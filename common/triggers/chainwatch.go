package triggers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veilflow/veilflow/common/clients"
	"github.com/veilflow/veilflow/common/logger"
	"github.com/veilflow/veilflow/common/metrics"
	"github.com/veilflow/veilflow/common/models"
)

const chainWatchInterval = 30 * time.Second

// ChainLister is the chain surface the watcher needs
type ChainLister interface {
	ListReceived(ctx context.Context, address string, minConf int) ([]clients.ReceivedTx, error)
}

// ChainWatcher polls watched shielded addresses for incoming
// transactions and fires a run per new matching memo. Seen txids are
// deduplicated per trigger in memory; a restart may refire recent txids,
// which downstream graphs tolerate through run-level idempotency.
type ChainWatcher struct {
	triggers  TriggerSource
	workflows WorkflowSource
	runs      RunCreator
	chain     ChainLister
	log       *logger.Logger

	mu   sync.Mutex
	seen map[uuid.UUID]map[string]bool
}

// NewChainWatcher creates the chain-memo supervisor
func NewChainWatcher(triggers TriggerSource, workflows WorkflowSource, runs RunCreator, chain ChainLister, log *logger.Logger) *ChainWatcher {
	return &ChainWatcher{
		triggers:  triggers,
		workflows: workflows,
		runs:      runs,
		chain:     chain,
		log:       log,
		seen:      make(map[uuid.UUID]map[string]bool),
	}
}

// Start runs the supervisor until the context is cancelled
func (w *ChainWatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(chainWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll runs one watch cycle over every active chain-memo trigger
func (w *ChainWatcher) Poll(ctx context.Context) {
	triggers, err := w.triggers.ListActiveByType(ctx, models.TriggerChainMemo)
	if err != nil {
		w.log.Error("chain watch trigger list failed", "error", err)
		return
	}

	for _, trigger := range triggers {
		w.pollTrigger(ctx, trigger)
	}
}

func (w *ChainWatcher) pollTrigger(ctx context.Context, trigger *models.Trigger) {
	log := w.log.WithTriggerID(trigger.ID.String())

	address := trigger.ConfigString("address", "")
	if address == "" {
		log.Warn("chain-memo trigger has no address, skipping")
		return
	}
	minConf := int(trigger.ConfigFloat("minConfirmations", 1))

	txs, err := w.chain.ListReceived(ctx, address, minConf)
	if err != nil {
		log.Error("chain watch query failed", "address", address, "error", err)
		return
	}

	pattern := trigger.ConfigString("memoPattern", "")
	minAmount := trigger.ConfigFloat("minAmount", 0)

	var wf *models.Workflow
	for _, tx := range txs {
		if w.alreadySeen(trigger.ID, tx.TxID) {
			continue
		}

		memo := clients.DecodeMemo(tx.MemoHex)
		if pattern != "" && !strings.Contains(memo, pattern) {
			w.markSeen(trigger.ID, tx.TxID)
			continue
		}
		if minAmount > 0 && tx.Amount < minAmount {
			w.markSeen(trigger.ID, tx.TxID)
			continue
		}

		if wf == nil {
			wf, err = w.workflows.GetPublishedByTrigger(ctx, trigger.ID)
			if err != nil {
				log.Warn("no published workflow for chain-memo trigger", "error", err)
				return
			}
		}

		payload := map[string]interface{}{
			"txid":          tx.TxID,
			"amount":        tx.Amount,
			"memo":          memo,
			"address":       address,
			"confirmations": tx.Confirmations,
			"blockheight":   tx.BlockHeight,
		}
		if _, err := w.runs.CreateRun(ctx, wf, &trigger.ID, payload, "chain-watch"); err != nil {
			log.Error("chain watch run creation failed", "txid", tx.TxID, "error", err)
			continue
		}

		w.markSeen(trigger.ID, tx.TxID)
		metrics.TriggerFires.WithLabelValues(string(models.TriggerChainMemo)).Inc()
		log.Info("chain memo matched", "txid", tx.TxID, "amount", tx.Amount)
	}
}

func (w *ChainWatcher) alreadySeen(triggerID uuid.UUID, txid string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seen[triggerID][txid]
}

func (w *ChainWatcher) markSeen(triggerID uuid.UUID, txid string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[triggerID] == nil {
		w.seen[triggerID] = make(map[string]bool)
	}
	w.seen[triggerID][txid] = true
}
