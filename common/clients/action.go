package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sony/gobreaker"
)

// ActionResponse is the outcome of a completed HTTP exchange. Non-2xx
// statuses are still completed exchanges: the caller decides what a 404
// or 500 means for its workflow.
type ActionResponse struct {
	Status int         `json:"status"`
	Body   interface{} `json:"body"`
}

// ActionClient performs workflow-authored HTTP requests against external
// APIs. A circuit breaker shields workers from hammering an endpoint
// whose transport is down; HTTP error statuses do not trip it.
type ActionClient struct {
	http    *HTTPClient
	breaker *gobreaker.CircuitBreaker
	log     Logger
}

// NewActionClient creates an outbound action client
func NewActionClient(log Logger) *ActionClient {
	settings := gobreaker.Settings{
		Name:    "action-http",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("action breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &ActionClient{
		http:    NewHTTPClient(30*time.Second, log),
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

// Exchange sends one request and returns the response regardless of
// status code. Only transport-level failures return an error.
func (c *ActionClient) Exchange(ctx context.Context, method, url string, headers map[string]string, body interface{}) (*ActionResponse, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.exchange(ctx, method, url, headers, body)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("action request to %s: circuit open", url)
		}
		return nil, err
	}
	return result.(*ActionResponse), nil
}

func (c *ActionClient) exchange(ctx context.Context, method, url string, headers map[string]string, body interface{}) (*ActionResponse, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal action body: %w", err)
		}
		reader = bytes.NewReader(raw)
		if headers == nil {
			headers = map[string]string{}
		}
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}

	resp, err := c.http.Do(ctx, method, url, headers, reader)
	if err != nil {
		return nil, fmt.Errorf("action request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read action response: %w", err)
	}

	out := &ActionResponse{Status: resp.StatusCode}
	var parsed interface{}
	if len(raw) > 0 && json.Unmarshal(raw, &parsed) == nil {
		out.Body = parsed
	} else {
		out.Body = string(raw)
	}

	return out, nil
}
