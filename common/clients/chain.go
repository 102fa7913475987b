package clients

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/veilflow/veilflow/common/config"
)

// ShieldedSend describes one shielded payment
type ShieldedSend struct {
	From          string
	To            string
	Amount        float64
	Memo          string
	PrivacyPolicy string

	// IdempotencyKey dedups re-sends within process lifetime. The node
	// wallet itself has no idempotency support, so a retried run on a
	// fresh process can still double-send; run submission caps attempts
	// for chain-bearing graphs because of this.
	IdempotencyKey string
}

// ShieldedSendResult is the completed operation
type ShieldedSendResult struct {
	TxID        string `json:"txid"`
	OperationID string `json:"operationId"`
}

// ReceivedTx is one transaction received at a watched address
type ReceivedTx struct {
	TxID          string  `json:"txid"`
	Amount        float64 `json:"amount"`
	MemoHex       string  `json:"memo"`
	Confirmations int     `json:"confirmations"`
	BlockHeight   int64   `json:"blockheight"`
}

// ZcashClient talks JSON-RPC to a Zcash-style node. Asynchronous sends
// (z_sendmany) are awaited by polling getoperationstatus every 5s up to
// the configured operation timeout.
type ZcashClient struct {
	http      *HTTPClient
	url       string
	authValue string
	cfg       config.ChainConfig
	log       Logger

	mu   sync.Mutex
	sent map[string]*ShieldedSendResult
}

const operationPollInterval = 5 * time.Second

// NewZcashClient creates a chain client from config
func NewZcashClient(cfg config.ChainConfig, log Logger) *ZcashClient {
	auth := base64.StdEncoding.EncodeToString([]byte(cfg.RPCUser + ":" + cfg.RPCPassword))
	return &ZcashClient{
		http:      NewHTTPClient(30*time.Second, log),
		url:       cfg.RPCURL,
		authValue: "Basic " + auth,
		cfg:       cfg,
		log:       log,
		sent:      make(map[string]*ShieldedSendResult),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *ZcashClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	req := rpcRequest{JSONRPC: "1.0", ID: "veilflow", Method: method, Params: params}
	headers := map[string]string{"Authorization": c.authValue}

	var resp rpcResponse
	if err := c.http.DoJSON(ctx, "POST", c.url, headers, req, &resp); err != nil {
		return fmt.Errorf("chain rpc %s: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("chain rpc %s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("chain rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

// SendShielded submits a z_sendmany and waits for completion
func (c *ZcashClient) SendShielded(ctx context.Context, send ShieldedSend) (*ShieldedSendResult, error) {
	if send.IdempotencyKey != "" {
		c.mu.Lock()
		if prev, ok := c.sent[send.IdempotencyKey]; ok {
			c.mu.Unlock()
			c.log.Info("shielded send deduplicated", "idempotency_key", send.IdempotencyKey, "txid", prev.TxID)
			return prev, nil
		}
		c.mu.Unlock()
	}

	from := send.From
	if from == "" {
		from = c.cfg.DefaultFrom
	}
	policy := send.PrivacyPolicy
	if policy == "" {
		policy = c.cfg.DefaultPrivacy
	}

	recipient := map[string]interface{}{
		"address": send.To,
		"amount":  send.Amount,
	}
	if send.Memo != "" {
		recipient["memo"] = hex.EncodeToString([]byte(send.Memo))
	}

	var opID string
	params := []interface{}{from, []interface{}{recipient}, 1, nil, policy}
	if err := c.call(ctx, "z_sendmany", params, &opID); err != nil {
		return nil, err
	}

	txid, err := c.waitForOperation(ctx, opID)
	if err != nil {
		return nil, err
	}

	result := &ShieldedSendResult{TxID: txid, OperationID: opID}
	if send.IdempotencyKey != "" {
		c.mu.Lock()
		c.sent[send.IdempotencyKey] = result
		c.mu.Unlock()
	}

	return result, nil
}

type operationStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result struct {
		TxID string `json:"txid"`
	} `json:"result"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *ZcashClient) waitForOperation(ctx context.Context, opID string) (string, error) {
	timeout := c.cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		var statuses []operationStatus
		params := []interface{}{[]string{opID}}
		if err := c.call(ctx, "z_getoperationstatus", params, &statuses); err != nil {
			return "", err
		}

		for _, st := range statuses {
			if st.ID != opID {
				continue
			}
			switch st.Status {
			case "success":
				return st.Result.TxID, nil
			case "failed", "cancelled":
				return "", fmt.Errorf("chain operation %s %s: %s", opID, st.Status, st.Error.Message)
			}
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("chain operation %s timed out after %s", opID, timeout)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(operationPollInterval):
		}
	}
}

// ListReceived returns transactions received at an address with at least
// minConf confirmations
func (c *ZcashClient) ListReceived(ctx context.Context, address string, minConf int) ([]ReceivedTx, error) {
	var txs []ReceivedTx
	params := []interface{}{address, minConf}
	if err := c.call(ctx, "z_listreceivedbyaddress", params, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// DecodeMemo converts a hex-encoded memo to utf-8, trimming padding
func DecodeMemo(memoHex string) string {
	raw, err := hex.DecodeString(memoHex)
	if err != nil {
		return ""
	}
	// Shielded memos are zero-padded to 512 bytes
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	return string(raw[:end])
}
