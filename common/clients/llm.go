package clients

import (
	"context"
	"fmt"

	"github.com/veilflow/veilflow/common/config"
)

// ChatResult is a completed inference: the text plus the signing material
// a caller can use to verify the response came from the attested model
type ChatResult struct {
	Text         string      `json:"text"`
	Signature    string      `json:"signature,omitempty"`
	VerifyingKey string      `json:"verifyingKey,omitempty"`
	Attestation  interface{} `json:"attestation,omitempty"`
	Model        string      `json:"model"`
}

// LLMClient talks to the private-inference gateway (nilAI). Requests use
// the OpenAI-style chat-completions shape.
type LLMClient struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
	model   string
	log     Logger
}

// NewLLMClient creates an inference client from config
func NewLLMClient(cfg config.LLMConfig, log Logger) *LLMClient {
	return &LLMClient{
		http:    NewHTTPClient(cfg.Timeout, log),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		log:     log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Signature    string      `json:"signature"`
	VerifyingKey string      `json:"verifying_key"`
	Attestation  interface{} `json:"attestation"`
}

// Complete runs one chat completion. An empty model falls back to the
// configured default; systemPrompt is optional.
func (c *LLMClient) Complete(ctx context.Context, model, systemPrompt, prompt string) (*ChatResult, error) {
	if model == "" {
		model = c.model
	}

	var messages []chatMessage
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	endpoint := c.baseURL + "/v1/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	var resp chatResponse
	req := chatRequest{Model: model, Messages: messages}
	if err := c.http.DoJSON(ctx, "POST", endpoint, headers, req, &resp); err != nil {
		return nil, fmt.Errorf("llm completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm completion: empty choices for model %s", model)
	}

	return &ChatResult{
		Text:         resp.Choices[0].Message.Content,
		Signature:    resp.Signature,
		VerifyingKey: resp.VerifyingKey,
		Attestation:  resp.Attestation,
		Model:        resp.Model,
	}, nil
}
