package engine

import (
	"context"
	"strings"

	"github.com/veilflow/veilflow/common/clients"
)

// HTTPExchanger is the outbound-request surface the action blocks need
type HTTPExchanger interface {
	Exchange(ctx context.Context, method, url string, headers map[string]string, body interface{}) (*clients.ActionResponse, error)
}

// ConnectorRequestHandler performs an HTTP call against a stored
// connector's base URL with its headers applied
type ConnectorRequestHandler struct {
	action HTTPExchanger
}

// NewConnectorRequestHandler creates a connector-request handler
func NewConnectorRequestHandler(action HTTPExchanger) *ConnectorRequestHandler {
	return &ConnectorRequestHandler{action: action}
}

func (h *ConnectorRequestHandler) BlockID() string      { return "connector-request" }
func (h *ConnectorRequestHandler) NeedsConnector() bool { return true }

func (h *ConnectorRequestHandler) Execute(ctx context.Context, req *Request) (*Output, *Error) {
	base := req.Connector.BaseURL()
	if base == "" {
		return nil, Errf(KindConfigInvalid, "connector %s has no baseUrl", req.Connector.ID)
	}

	endpoint := stringConfig(req, "endpoint", "")
	url := strings.TrimRight(base, "/")
	if endpoint != "" {
		url += "/" + strings.TrimLeft(endpoint, "/")
	}

	headers := req.Connector.Headers()
	for k, v := range rawHeaders(req) {
		headers[k] = v
	}

	return performExchange(ctx, h.action, req, url, headers)
}

// CustomHTTPHandler performs an HTTP call against an absolute URL with
// no connector involved
type CustomHTTPHandler struct {
	action HTTPExchanger
}

// NewCustomHTTPHandler creates a custom-http-action handler
func NewCustomHTTPHandler(action HTTPExchanger) *CustomHTTPHandler {
	return &CustomHTTPHandler{action: action}
}

func (h *CustomHTTPHandler) BlockID() string      { return "custom-http-action" }
func (h *CustomHTTPHandler) NeedsConnector() bool { return false }

func (h *CustomHTTPHandler) Execute(ctx context.Context, req *Request) (*Output, *Error) {
	url := stringConfig(req, "url", "")
	if url == "" {
		return nil, Errf(KindConfigInvalid, "custom-http-action requires url")
	}

	return performExchange(ctx, h.action, req, url, rawHeaders(req))
}

func performExchange(ctx context.Context, action HTTPExchanger, req *Request, url string, headers map[string]string) (*Output, *Error) {
	method := strings.ToUpper(stringConfig(req, "method", "GET"))

	var body interface{}
	if v, ok := req.Config["bodyPath"]; ok {
		body = v
	} else if v, ok := req.Raw["body"]; ok {
		body = v
	}

	resp, err := action.Exchange(ctx, method, url, headers, body)
	if err != nil {
		return nil, Transient(err)
	}

	// An HTTP-level failure is a handler failure classified by status
	if resp.Status < 200 || resp.Status > 299 {
		return nil, Errf(ClassifyStatus(resp.Status), "%s %s returned status %d", method, url, resp.Status)
	}

	return &Output{Value: resp.Body}, nil
}

func rawHeaders(req *Request) map[string]string {
	out := make(map[string]string)
	raw, ok := req.Raw["headers"].(map[string]interface{})
	if !ok {
		return out
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
