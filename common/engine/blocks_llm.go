package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/veilflow/veilflow/common/clients"
	"github.com/veilflow/veilflow/common/paths"
)

var templateToken = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\-]+)\s*\}\}`)

// Completer is the inference surface the LLM block needs
type Completer interface {
	Complete(ctx context.Context, model, systemPrompt, prompt string) (*clients.ChatResult, error)
}

// LLMHandler renders a prompt template from run memory and sends it to
// the private-inference gateway
type LLMHandler struct {
	llm Completer
}

// NewLLMHandler creates a nilai-llm handler
func NewLLMHandler(llm Completer) *LLMHandler {
	return &LLMHandler{llm: llm}
}

func (h *LLMHandler) BlockID() string      { return "nilai-llm" }
func (h *LLMHandler) NeedsConnector() bool { return false }

func (h *LLMHandler) Execute(ctx context.Context, req *Request) (*Output, *Error) {
	template := stringConfig(req, "promptTemplate", "")
	if template == "" {
		template = stringConfig(req, "prompt", "")
	}
	if template == "" {
		return nil, Errf(KindConfigInvalid, "nilai-llm requires promptTemplate")
	}

	prompt := RenderTemplate(template, req.Memory)
	model := stringConfig(req, "model", "")
	system := stringConfig(req, "systemPrompt", "")

	result, err := h.llm.Complete(ctx, model, system, prompt)
	if err != nil {
		return nil, FromClientError(err)
	}

	value := map[string]interface{}{
		"text":  result.Text,
		"model": result.Model,
	}
	if result.Signature != "" {
		value["signature"] = result.Signature
	}
	if result.VerifyingKey != "" {
		value["verifyingKey"] = result.VerifyingKey
	}

	out := &Output{Value: value}
	if result.Attestation != nil {
		out.Globals = map[string]interface{}{"attestation": result.Attestation}
	}
	return out, nil
}

// RenderTemplate substitutes {{alias}} tokens with values from memory.
// Dotted tokens resolve into nested outputs; scalars render bare, other
// values render as JSON. Unresolved tokens are left in place.
func RenderTemplate(template string, memory map[string]interface{}) string {
	return templateToken.ReplaceAllStringFunc(template, func(token string) string {
		name := templateToken.FindStringSubmatch(token)[1]
		value, found := paths.Lookup(memory, name)
		if !found {
			return token
		}
		switch v := value.(type) {
		case string:
			return v
		case float64, bool:
			return fmt.Sprintf("%v", v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return token
			}
			return string(raw)
		}
	})
}
