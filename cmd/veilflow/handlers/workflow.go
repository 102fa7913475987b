// Package handlers holds the Echo HTTP handlers of the API service.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/veilflow/veilflow/cmd/veilflow/container"
	"github.com/veilflow/veilflow/common/models"
	"github.com/veilflow/veilflow/common/repository"
)

// WorkflowHandler serves workflow CRUD and lifecycle endpoints
type WorkflowHandler struct {
	container *container.Container
}

// NewWorkflowHandler creates a workflow handler
func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{container: c}
}

type createWorkflowRequest struct {
	Name  string        `json:"name"`
	Graph *models.Graph `json:"graph"`
}

// Create stores a new draft workflow
func (h *WorkflowHandler) Create(c echo.Context) error {
	var req createWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	wf, err := h.container.WorkflowService.Create(c.Request().Context(), tenantID(c), req.Name, req.Graph)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusCreated, wf)
}

// Get returns a workflow by id
func (h *WorkflowHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	wf, err := h.container.WorkflowService.Get(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, wf)
}

// Publish validates and publishes a workflow
func (h *WorkflowHandler) Publish(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	wf, err := h.container.WorkflowService.Publish(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	return c.JSON(http.StatusOK, wf)
}

// Pause stops trigger-driven execution
func (h *WorkflowHandler) Pause(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := h.container.WorkflowService.Pause(c.Request().Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]string{"status": string(models.WorkflowPaused)})
}

// PatchGraph applies an RFC 6902 patch to the workflow graph
func (h *WorkflowHandler) PatchGraph(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	patchDoc, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}

	wf, err := h.container.WorkflowService.PatchGraph(c.Request().Context(), id, patchDoc)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	return c.JSON(http.StatusOK, wf)
}

type bindTriggerRequest struct {
	TriggerID string `json:"triggerId"`
}

// BindTrigger attaches a trigger to the workflow
func (h *WorkflowHandler) BindTrigger(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req bindTriggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	triggerID, err := uuid.Parse(req.TriggerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid trigger id")
	}

	if err := h.container.WorkflowService.BindTrigger(c.Request().Context(), id, triggerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.NoContent(http.StatusNoContent)
}

// tenantID reads the caller's tenant from the request
func tenantID(c echo.Context) string {
	if t := c.Request().Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return "default"
}

// pathID parses a uuid path parameter
func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
