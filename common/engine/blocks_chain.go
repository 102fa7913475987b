package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/veilflow/veilflow/common/clients"
)

// ShieldedSender is the chain surface the send block needs
type ShieldedSender interface {
	SendShielded(ctx context.Context, send clients.ShieldedSend) (*clients.ShieldedSendResult, error)
}

// ChainSendHandler performs a shielded payment and waits for the wallet
// operation to complete
type ChainSendHandler struct {
	chain ShieldedSender
}

// NewChainSendHandler creates a zcash-send handler
func NewChainSendHandler(chain ShieldedSender) *ChainSendHandler {
	return &ChainSendHandler{chain: chain}
}

func (h *ChainSendHandler) BlockID() string      { return "zcash-send" }
func (h *ChainSendHandler) NeedsConnector() bool { return false }

func (h *ChainSendHandler) Execute(ctx context.Context, req *Request) (*Output, *Error) {
	to := h.recipient(req)
	if to == "" {
		return nil, Errf(KindConfigInvalid, "zcash-send requires to, toPath or fallbackAddress")
	}

	amount, err := h.amount(req)
	if err != nil {
		return nil, err
	}

	memo := stringConfig(req, "memo", "")
	if v, ok := req.Config["memoPath"]; ok {
		memo = fmt.Sprintf("%v", v)
	}

	send := clients.ShieldedSend{
		From:          stringConfig(req, "fromAddress", ""),
		To:            to,
		Amount:        amount,
		Memo:          memo,
		PrivacyPolicy: stringConfig(req, "privacyPolicy", ""),

		// One key per run+node keeps queue redeliveries from double-spending
		IdempotencyKey: req.RunID.String() + ":" + req.Node.ID,
	}

	result, sendErr := h.chain.SendShielded(ctx, send)
	if sendErr != nil {
		return nil, FromClientError(sendErr)
	}

	return &Output{
		Value: map[string]interface{}{
			"txid":        result.TxID,
			"operationId": result.OperationID,
			"amount":      amount,
			"to":          to,
		},
		Globals: map[string]interface{}{"shielded": true},
	}, nil
}

// recipient resolves the destination address: a resolved toPath wins,
// then a literal to, then the configured fallback
func (h *ChainSendHandler) recipient(req *Request) string {
	if v, ok := req.Config["toPath"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if to := stringConfig(req, "to", ""); to != "" {
		return to
	}
	return stringConfig(req, "fallbackAddress", "")
}

func (h *ChainSendHandler) amount(req *Request) (float64, *Error) {
	var raw interface{}
	if v, ok := req.Config["amountPath"]; ok {
		raw = v
	} else if v, ok := req.Raw["amount"]; ok {
		raw = v
	} else {
		return 0, Errf(KindConfigInvalid, "zcash-send requires amount or amountPath")
	}

	amount, ok := coerceFloat(raw)
	if !ok {
		return 0, Errf(KindConfigInvalid, "zcash-send amount %v is not numeric", raw)
	}
	if amount <= 0 {
		return 0, Errf(KindConfigInvalid, "zcash-send amount must be positive, got %v", amount)
	}
	return amount, nil
}

// coerceFloat accepts JSON numbers and numeric strings
func coerceFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
