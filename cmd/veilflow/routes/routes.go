// Package routes binds the API service's HTTP routes to their handlers.
package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/veilflow/veilflow/cmd/veilflow/container"
	"github.com/veilflow/veilflow/cmd/veilflow/handlers"
)

// RegisterWorkflowRoutes registers workflow lifecycle and run endpoints
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	workflow := handlers.NewWorkflowHandler(c)
	run := handlers.NewRunHandler(c)

	g := e.Group("/workflows")
	g.POST("", workflow.Create)
	g.GET("/:id", workflow.Get)
	g.POST("/:id/publish", workflow.Publish)
	g.POST("/:id/pause", workflow.Pause)
	g.PATCH("/:id/graph", workflow.PatchGraph)
	g.POST("/:id/trigger", workflow.BindTrigger)
	g.POST("/:id/runs", run.Create)
	g.GET("/:id/runs", run.ListByWorkflow)
}

// RegisterRunRoutes registers run submission and inspection endpoints
func RegisterRunRoutes(e *echo.Echo, c *container.Container) {
	run := handlers.NewRunHandler(c)

	e.POST("/runs", run.Create)
	e.GET("/runs", run.ListByWorkflow)
	e.GET("/runs/:id", run.Get)
}

// RegisterTriggerRoutes registers trigger CRUD, the synthetic test run
// and the webhook intake
func RegisterTriggerRoutes(e *echo.Echo, c *container.Container) {
	trigger := handlers.NewTriggerHandler(c)
	webhook := handlers.NewWebhookHandler(c)

	g := e.Group("/triggers")
	g.POST("", trigger.Create)
	g.GET("/:id", trigger.Get)
	g.PUT("/:id/status", trigger.UpdateStatus)
	g.POST("/:id/test", trigger.Test)
	g.POST("/hooks/:triggerId", webhook.Receive)
}

// RegisterConnectorRoutes registers connector endpoints
func RegisterConnectorRoutes(e *echo.Echo, c *container.Container) {
	connector := handlers.NewConnectorHandler(c)

	g := e.Group("/connectors")
	g.POST("", connector.Create)
	g.GET("/:id", connector.Get)
}

// RegisterLedgerRoutes registers credit balance and trail endpoints
func RegisterLedgerRoutes(e *echo.Echo, c *container.Container) {
	ledger := handlers.NewLedgerHandler(c)

	g := e.Group("/credits")
	g.GET("/balance", ledger.Balance)
	g.POST("", ledger.Credit)
	g.GET("/entries", ledger.Entries)
}
