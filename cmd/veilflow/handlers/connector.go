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

// ConnectorHandler serves connector endpoints. Responses always carry the
// masked view; plaintext secrets never leave the service.
type ConnectorHandler struct {
	container *container.Container
}

// NewConnectorHandler creates a connector handler
func NewConnectorHandler(c *container.Container) *ConnectorHandler {
	return &ConnectorHandler{container: c}
}

type createConnectorRequest struct {
	Type   string                 `json:"type"`
	Name   string                 `json:"name"`
	Config map[string]interface{} `json:"config"`
}

// Create stores a connector, sealing its secret fields
func (h *ConnectorHandler) Create(c echo.Context) error {
	var req createConnectorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" || req.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and type are required")
	}

	now := time.Now().UTC()
	connector := &models.Connector{
		ID:        uuid.New(),
		TenantID:  tenantID(c),
		Type:      req.Type,
		Name:      req.Name,
		Config:    req.Config,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx := c.Request().Context()
	if err := h.container.ConnectorRepo.Create(ctx, connector); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	masked, err := h.container.ConnectorRepo.GetMasked(ctx, connector.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, masked)
}

// Get returns the masked view of a connector
func (h *ConnectorHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	connector, err := h.container.ConnectorRepo.GetMasked(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "connector not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, connector)
}
