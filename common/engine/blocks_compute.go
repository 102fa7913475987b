package engine

import (
	"context"

	"github.com/veilflow/veilflow/common/clients"
)

// ComputeRunner is the confidential-compute surface the compute blocks
// need
type ComputeRunner interface {
	RunWorkload(ctx context.Context, workloadID string, inputs map[string]interface{}) (*clients.ComputeResult, error)
	RunBlockGraph(ctx context.Context, graphID string, inputs map[string]interface{}) (*clients.ComputeResult, error)
}

// ComputeHandler submits workloads to the confidential-compute service
// and binds the result with its attestation
type ComputeHandler struct {
	compute ComputeRunner
}

// NewComputeHandler creates a nillion-compute handler
func NewComputeHandler(compute ComputeRunner) *ComputeHandler {
	return &ComputeHandler{compute: compute}
}

func (h *ComputeHandler) BlockID() string      { return "nillion-compute" }
func (h *ComputeHandler) NeedsConnector() bool { return false }

func (h *ComputeHandler) Execute(ctx context.Context, req *Request) (*Output, *Error) {
	workloadID := stringConfig(req, "workloadId", "")
	if workloadID == "" {
		return nil, Errf(KindConfigInvalid, "nillion-compute requires workloadId")
	}

	result, err := h.compute.RunWorkload(ctx, workloadID, computeInputs(req))
	if err != nil {
		return nil, FromClientError(err)
	}

	return computeOutput(result), nil
}

// BlockGraphHandler runs a stored block-graph program on the
// confidential-compute service
type BlockGraphHandler struct {
	compute ComputeRunner
}

// NewBlockGraphHandler creates a nillion-block-graph handler
func NewBlockGraphHandler(compute ComputeRunner) *BlockGraphHandler {
	return &BlockGraphHandler{compute: compute}
}

func (h *BlockGraphHandler) BlockID() string      { return "nillion-block-graph" }
func (h *BlockGraphHandler) NeedsConnector() bool { return false }

func (h *BlockGraphHandler) Execute(ctx context.Context, req *Request) (*Output, *Error) {
	graphID := stringConfig(req, "blockGraphId", "")
	if graphID == "" {
		graphID = stringConfig(req, "graphId", "")
	}
	if graphID == "" {
		return nil, Errf(KindConfigInvalid, "nillion-block-graph requires blockGraphId")
	}

	result, err := h.compute.RunBlockGraph(ctx, graphID, computeInputs(req))
	if err != nil {
		return nil, FromClientError(err)
	}

	return computeOutput(result), nil
}

// computeInputs assembles workload inputs: a resolved inputsPath document
// wins, then literal inputs, then the upstream handle map
func computeInputs(req *Request) map[string]interface{} {
	if v, ok := req.Config["inputsPath"].(map[string]interface{}); ok {
		return v
	}
	if v, ok := req.Raw["inputs"].(map[string]interface{}); ok {
		return v
	}
	return req.Inputs
}

func computeOutput(result *clients.ComputeResult) *Output {
	value := map[string]interface{}{"output": result.Output}
	out := &Output{Value: value}
	if result.Attestation != nil {
		value["attestation"] = result.Attestation
		out.Globals = map[string]interface{}{"attestation": result.Attestation}
	}
	return out
}
