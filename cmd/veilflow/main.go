package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/veilflow/veilflow/cmd/veilflow/container"
	"github.com/veilflow/veilflow/cmd/veilflow/routes"
	"github.com/veilflow/veilflow/common/bootstrap"
	"github.com/veilflow/veilflow/common/logger"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "veilflow")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap veilflow: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e, components)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	startPprof(components)
	startKeepAlive(ctx, components)

	startServer(e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, components *bootstrap.Components) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: components.Config.Service.CORSOrigins,
	}))
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health and metrics endpoints
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.DB.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "veilflow",
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterWorkflowRoutes(e, serviceContainer)
	routes.RegisterRunRoutes(e, serviceContainer)
	routes.RegisterTriggerRoutes(e, serviceContainer)
	routes.RegisterConnectorRoutes(e, serviceContainer)
	routes.RegisterLedgerRoutes(e, serviceContainer)
}

// startPprof exposes the pprof mux on its own port when enabled
func startPprof(components *bootstrap.Components) {
	if !components.Config.Telemetry.EnablePprof {
		return
	}
	addr := fmt.Sprintf(":%d", components.Config.Telemetry.PprofPort)
	components.Logger.Info("pprof enabled", "addr", addr)
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			components.Logger.Error("pprof server error", "error", err)
		}
	}()
}

// startKeepAlive pings the public URL so free-tier hosts don't idle the
// service out
func startKeepAlive(ctx context.Context, components *bootstrap.Components) {
	url := components.Config.Service.PublicURL
	interval := components.Config.Service.KeepAliveInterval
	if url == "" || interval <= 0 {
		return
	}

	go keepAlive(ctx, url, interval, components.Logger)
}

func keepAlive(ctx context.Context, url string, interval time.Duration, log *logger.Logger) {
	client := &http.Client{Timeout: 10 * time.Second}
	target := url + "/health"
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("keep-alive pinger started", "url", target, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := client.Get(target)
			if err != nil {
				log.Warn("keep-alive ping failed", "error", err)
				continue
			}
			resp.Body.Close()
		}
	}
}

// startServer starts the Echo server on the configured port
func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	components.Logger.Info("starting veilflow api", "port", port)

	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
