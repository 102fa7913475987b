package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/veilflow/veilflow/cmd/veilflow/container"
	"github.com/veilflow/veilflow/common/models"
	"github.com/veilflow/veilflow/common/repository"
)

// TriggerHandler serves trigger CRUD endpoints
type TriggerHandler struct {
	container *container.Container
}

// NewTriggerHandler creates a trigger handler
func NewTriggerHandler(c *container.Container) *TriggerHandler {
	return &TriggerHandler{container: c}
}

type createTriggerRequest struct {
	Type        string                 `json:"type"`
	Config      map[string]interface{} `json:"config"`
	ConnectorID string                 `json:"connectorId"`
}

var validTriggerTypes = map[models.TriggerType]bool{
	models.TriggerWebhook:      true,
	models.TriggerForgeWebhook: true,
	models.TriggerCron:         true,
	models.TriggerChainMemo:    true,
	models.TriggerHTTPPoll:     true,
	models.TriggerSocialPost:   true,
}

// Create stores a new active trigger
func (h *TriggerHandler) Create(c echo.Context) error {
	var req createTriggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	triggerType := models.TriggerType(req.Type)
	if !validTriggerTypes[triggerType] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown trigger type: "+req.Type)
	}

	var connectorID *uuid.UUID
	if req.ConnectorID != "" {
		id, err := uuid.Parse(req.ConnectorID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid connector id")
		}
		connectorID = &id
	}

	now := time.Now().UTC()
	trigger := &models.Trigger{
		ID:          uuid.New(),
		TenantID:    tenantID(c),
		Type:        triggerType,
		Config:      req.Config,
		ConnectorID: connectorID,
		Status:      models.TriggerActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.container.TriggerRepo.Create(c.Request().Context(), trigger); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, trigger)
}

// Get returns a trigger by id
func (h *TriggerHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	trigger, err := h.container.TriggerRepo.GetByID(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "trigger not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, trigger)
}

type testTriggerRequest struct {
	Payload map[string]interface{} `json:"payload"`
}

// Test enqueues a synthetic run of the trigger's bound published workflow
func (h *TriggerHandler) Test(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	trigger, err := h.container.TriggerRepo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "trigger not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	workflow, err := h.container.WorkflowRepo.GetPublishedByTrigger(ctx, trigger.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no published workflow for trigger")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var req testTriggerRequest
	_ = c.Bind(&req)
	payload := req.Payload
	if payload == nil {
		payload = map[string]interface{}{
			"test":        true,
			"triggeredAt": time.Now().UTC().Format(time.RFC3339),
		}
	}

	run, err := h.container.RunService.CreateRun(ctx, workflow, &trigger.ID, payload, "test")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{"runId": run.ID})
}

type updateTriggerStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus activates or deactivates a trigger
func (h *TriggerHandler) UpdateStatus(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req updateTriggerStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	status := models.TriggerStatus(req.Status)
	if status != models.TriggerActive && status != models.TriggerInactive {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be active or inactive")
	}

	if err := h.container.TriggerRepo.UpdateStatus(c.Request().Context(), id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "trigger not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]string{"status": string(status)})
}
