package routes

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/veilflow/veilflow/cmd/veilflow/container"
)

func TestRegisteredRouteSurface(t *testing.T) {
	e := echo.New()
	c := &container.Container{}

	RegisterWorkflowRoutes(e, c)
	RegisterRunRoutes(e, c)
	RegisterTriggerRoutes(e, c)
	RegisterConnectorRoutes(e, c)
	RegisterLedgerRoutes(e, c)

	registered := make(map[string]bool)
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	for _, route := range []string{
		http.MethodPost + " /workflows",
		http.MethodPost + " /workflows/:id/publish",
		http.MethodPost + " /workflows/:id/pause",
		http.MethodPatch + " /workflows/:id/graph",
		http.MethodPost + " /runs",
		http.MethodGet + " /runs",
		http.MethodGet + " /runs/:id",
		http.MethodPost + " /triggers",
		http.MethodPost + " /triggers/:id/test",
		http.MethodPost + " /triggers/hooks/:triggerId",
		http.MethodPost + " /connectors",
		http.MethodGet + " /credits/balance",
	} {
		assert.True(t, registered[route], route)
	}
}
