package clients

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/veilflow/veilflow/common/config"
)

// ComputeResult is the outcome of a confidential workload: the output
// plus the enclave's attestation, propagated into run results unchanged
type ComputeResult struct {
	Output      interface{} `json:"output"`
	Attestation interface{} `json:"attestation,omitempty"`
}

// ComputeClient talks to the confidential-compute service (nilCC).
// Submissions are asynchronous; results are polled until completion or a
// bounded timeout.
type ComputeClient struct {
	http        *HTTPClient
	attestation *HTTPClient
	baseURL     string
	apiKey      string
	log         Logger
}

const (
	computePollInterval = 2 * time.Second
	computeWaitTimeout  = 120 * time.Second
)

// NewComputeClient creates a confidential-compute client from config
func NewComputeClient(cfg config.ComputeConfig, log Logger) *ComputeClient {
	return &ComputeClient{
		http: NewHTTPClient(30*time.Second, log),
		// Attestation fetches get a tighter budget
		attestation: NewHTTPClient(10*time.Second, log),
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		log:         log,
	}
}

func (c *ComputeClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

// RunWorkload submits a workload with inputs and waits for its result
func (c *ComputeClient) RunWorkload(ctx context.Context, workloadID string, inputs map[string]interface{}) (*ComputeResult, error) {
	endpoint := fmt.Sprintf("%s/v1/workloads/%s/invocations", c.baseURL, url.PathEscape(workloadID))
	return c.invoke(ctx, endpoint, inputs)
}

// RunBlockGraph submits a block-graph program with inputs and waits for
// its result
func (c *ComputeClient) RunBlockGraph(ctx context.Context, graphID string, inputs map[string]interface{}) (*ComputeResult, error) {
	endpoint := fmt.Sprintf("%s/v1/block-graphs/%s/invocations", c.baseURL, url.PathEscape(graphID))
	return c.invoke(ctx, endpoint, inputs)
}

type computeSubmitResponse struct {
	JobID string `json:"jobId"`
}

type computeJobResponse struct {
	Status string      `json:"status"`
	Output interface{} `json:"output"`
	Error  string      `json:"error"`
}

type computeAttestationResponse struct {
	Attestation interface{} `json:"attestation"`
}

func (c *ComputeClient) invoke(ctx context.Context, endpoint string, inputs map[string]interface{}) (*ComputeResult, error) {
	var submitted computeSubmitResponse
	body := map[string]interface{}{"inputs": inputs}
	if err := c.http.DoJSON(ctx, "POST", endpoint, c.headers(), body, &submitted); err != nil {
		return nil, fmt.Errorf("compute submit: %w", err)
	}

	jobURL := fmt.Sprintf("%s/v1/jobs/%s", c.baseURL, url.PathEscape(submitted.JobID))
	deadline := time.Now().Add(computeWaitTimeout)

	for {
		var job computeJobResponse
		if err := c.http.DoJSON(ctx, "GET", jobURL, c.headers(), nil, &job); err != nil {
			return nil, fmt.Errorf("compute poll: %w", err)
		}

		switch job.Status {
		case "completed":
			result := &ComputeResult{Output: job.Output}
			result.Attestation = c.fetchAttestation(ctx, submitted.JobID)
			return result, nil
		case "failed":
			return nil, fmt.Errorf("compute job %s failed: %s", submitted.JobID, job.Error)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("compute job %s timed out after %s", submitted.JobID, computeWaitTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(computePollInterval):
		}
	}
}

// fetchAttestation is best-effort: a missing attestation degrades the
// proof trail, not the run
func (c *ComputeClient) fetchAttestation(ctx context.Context, jobID string) interface{} {
	attURL := fmt.Sprintf("%s/v1/jobs/%s/attestation", c.baseURL, url.PathEscape(jobID))

	var resp computeAttestationResponse
	if err := c.attestation.DoJSON(ctx, "GET", attURL, c.headers(), nil, &resp); err != nil {
		c.log.Warn("attestation fetch failed", "job_id", jobID, "error", err)
		return nil
	}
	return resp.Attestation
}
