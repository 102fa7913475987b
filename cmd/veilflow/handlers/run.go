package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/veilflow/veilflow/cmd/veilflow/container"
	"github.com/veilflow/veilflow/common/repository"
)

// RunHandler serves run submission and inspection endpoints
type RunHandler struct {
	container *container.Container
}

// NewRunHandler creates a run handler
func NewRunHandler(c *container.Container) *RunHandler {
	return &RunHandler{container: c}
}

type createRunRequest struct {
	WorkflowID string                 `json:"workflowId"`
	Payload    map[string]interface{} `json:"payload"`
}

// Create submits a manual run of a workflow, addressed either by the
// nested route's path id or by workflowId in the body. Drafts are allowed
// here so authors can test before publishing; triggers still require
// published.
func (h *RunHandler) Create(c echo.Context) error {
	var req createRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	workflowID, err := pathID(c, "id")
	if err != nil {
		workflowID, err = uuid.Parse(req.WorkflowID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "workflowId is required")
		}
	}

	ctx := c.Request().Context()
	wf, err := h.container.WorkflowService.Get(ctx, workflowID)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	run, err := h.container.RunService.CreateRun(ctx, wf, nil, req.Payload, "api")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"runId":  run.ID,
		"status": "queued",
	})
}

// Get returns a run by id
func (h *RunHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	run, err := h.container.RunService.GetRun(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, run)
}

// ListByWorkflow returns a workflow's runs, newest first. The workflow is
// addressed by the nested route's path id or a workflowId query parameter.
func (h *RunHandler) ListByWorkflow(c echo.Context) error {
	workflowID, err := pathID(c, "id")
	if err != nil {
		workflowID, err = uuid.Parse(c.QueryParam("workflowId"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "workflowId is required")
		}
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := h.container.RunService.ListRuns(c.Request().Context(), workflowID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}
