package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veilflow/veilflow/common/models"
)

func TestMemoParserSplitsPairs(t *testing.T) {
	h := &MemoParserHandler{}
	req := &Request{
		Node:    &models.Node{ID: "m"},
		Raw:     map[string]interface{}{},
		Config:  map[string]interface{}{},
		Payload: map[string]interface{}{"memo": "order:42;tier:gold"},
	}

	out, err := h.Execute(context.Background(), req)
	require.Nil(t, err)

	value := out.Value.(map[string]interface{})
	fields := value["fields"].(map[string]interface{})
	assert.Equal(t, "42", fields["order"])
	assert.Equal(t, "gold", fields["tier"])
	assert.Equal(t, "order:42;tier:gold", value["raw"])
}

func TestMemoParserCustomDelimiter(t *testing.T) {
	h := &MemoParserHandler{}
	req := &Request{
		Node:    &models.Node{ID: "m"},
		Raw:     map[string]interface{}{"memo": "k=v", "delimiter": "="},
		Config:  map[string]interface{}{},
		Payload: map[string]interface{}{},
	}

	out, err := h.Execute(context.Background(), req)
	require.Nil(t, err)

	fields := out.Value.(map[string]interface{})["fields"].(map[string]interface{})
	assert.Equal(t, "v", fields["k"])
}

func TestRenderTemplate(t *testing.T) {
	memory := map[string]interface{}{
		"rec":   map[string]interface{}{"name": "Ada", "score": 9.5},
		"greet": "hello",
	}

	assert.Equal(t, "hello Ada", RenderTemplate("{{greet}} {{rec.name}}", memory))
	assert.Equal(t, "score: 9.5", RenderTemplate("score: {{rec.score}}", memory))
	// Unresolved tokens stay in place
	assert.Equal(t, "{{missing}}", RenderTemplate("{{missing}}", memory))
}

func TestIfElseCELCondition(t *testing.T) {
	h := NewIfElseHandler(NewConditionEvaluator())
	req := &Request{
		Node:    &models.Node{ID: "c"},
		Raw:     map[string]interface{}{"condition": "$.rec.approved == true"},
		Config:  map[string]interface{}{},
		Payload: map[string]interface{}{},
		Memory: map[string]interface{}{
			"rec": map[string]interface{}{"approved": true},
		},
		Inputs: map[string]interface{}{},
	}

	out, err := h.Execute(context.Background(), req)
	require.Nil(t, err)
	assert.Equal(t, "true", out.SelectedHandle)
	assert.Equal(t, true, out.Value)
}

func TestIfElseConditionPathEquals(t *testing.T) {
	h := NewIfElseHandler(NewConditionEvaluator())
	req := &Request{
		Node:    &models.Node{ID: "c"},
		Raw:     map[string]interface{}{"conditionPath": "status", "conditionEquals": "open"},
		Config:  map[string]interface{}{"conditionPath": "closed"},
		Payload: map[string]interface{}{},
		Memory:  map[string]interface{}{},
	}

	out, err := h.Execute(context.Background(), req)
	require.Nil(t, err)
	assert.Equal(t, "false", out.SelectedHandle)
}

func TestIfElseRequiresCondition(t *testing.T) {
	h := NewIfElseHandler(NewConditionEvaluator())
	req := &Request{
		Node:   &models.Node{ID: "c"},
		Raw:    map[string]interface{}{},
		Config: map[string]interface{}{},
	}

	_, err := h.Execute(context.Background(), req)
	require.NotNil(t, err)
	assert.Equal(t, KindConfigInvalid, err.Kind)
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, KindExternalUnauthenticated, ClassifyStatus(401))
	assert.Equal(t, KindExternalUnauthenticated, ClassifyStatus(403))
	assert.Equal(t, KindHandlerTransient, ClassifyStatus(408))
	assert.Equal(t, KindHandlerTransient, ClassifyStatus(429))
	assert.Equal(t, KindHandlerTransient, ClassifyStatus(500))
	assert.Equal(t, KindHandlerTransient, ClassifyStatus(503))
	assert.Equal(t, KindHandlerPermanent, ClassifyStatus(404))
	assert.Equal(t, KindHandlerPermanent, ClassifyStatus(422))
}

func TestOnlyTransientErrorsRetry(t *testing.T) {
	for _, kind := range []Kind{
		KindGraphInvalid, KindGraphMissing, KindUnknownBlock,
		KindInsufficientCredits, KindCreditExhausted, KindConfigInvalid,
		KindHandlerPermanent, KindExternalUnauthenticated,
	} {
		assert.False(t, (&Error{Kind: kind}).Retryable(), string(kind))
	}
	assert.True(t, (&Error{Kind: KindHandlerTransient}).Retryable())
}

func TestChainSendCoercesStringAmount(t *testing.T) {
	chain := &fakeChain{}
	h := NewChainSendHandler(chain)
	req := &Request{
		RunID: uuid.New(),
		Node:  &models.Node{ID: "send"},
		Raw: map[string]interface{}{
			"fallbackAddress": "zs1dest",
		},
		Config: map[string]interface{}{"amountPath": "0.25"},
	}

	out, err := h.Execute(context.Background(), req)
	require.Nil(t, err)
	require.Len(t, chain.sends, 1)
	assert.Equal(t, 0.25, chain.sends[0].Amount)

	value := out.Value.(map[string]interface{})
	assert.Equal(t, "tx-1", value["txid"])
	assert.Equal(t, true, out.Globals["shielded"])
}

func TestChainSendRejectsNonPositiveAmount(t *testing.T) {
	h := NewChainSendHandler(&fakeChain{})
	req := &Request{
		Node:   &models.Node{ID: "send"},
		Raw:    map[string]interface{}{"to": "zs1dest", "amount": -1.0},
		Config: map[string]interface{}{},
	}

	_, err := h.Execute(context.Background(), req)
	require.NotNil(t, err)
	assert.Equal(t, KindConfigInvalid, err.Kind)
}
