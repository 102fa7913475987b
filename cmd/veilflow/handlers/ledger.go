package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/veilflow/veilflow/cmd/veilflow/container"
)

// LedgerHandler serves credit balance and ledger-trail endpoints
type LedgerHandler struct {
	container *container.Container
}

// NewLedgerHandler creates a ledger handler
func NewLedgerHandler(c *container.Container) *LedgerHandler {
	return &LedgerHandler{container: c}
}

// Balance returns the caller's credit balance
func (h *LedgerHandler) Balance(c echo.Context) error {
	balance, err := h.container.LedgerRepo.Balance(c.Request().Context(), tenantID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"balance": balance})
}

type creditRequest struct {
	Amount    int64  `json:"amount"`
	Operation string `json:"operation"`
}

// Credit tops up the caller's balance
func (h *LedgerHandler) Credit(c echo.Context) error {
	var req creditRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Amount <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be positive")
	}
	if req.Operation == "" {
		req.Operation = "top-up"
	}

	tenant := tenantID(c)
	ctx := c.Request().Context()
	if err := h.container.LedgerRepo.Credit(ctx, tenant, req.Amount, req.Operation); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	balance, err := h.container.LedgerRepo.Balance(ctx, tenant)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"balance": balance})
}

// Entries returns the caller's ledger trail, newest first
func (h *LedgerHandler) Entries(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	entries, err := h.container.LedgerRepo.ListEntries(c.Request().Context(), tenantID(c), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"entries": entries})
}
