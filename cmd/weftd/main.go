package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/weftworks/weft/cmd/weftd/container"
	"github.com/weftworks/weft/cmd/weftd/routes"
	"github.com/weftworks/weft/common/bootstrap"
	"github.com/weftworks/weft/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (config, logger, DB, Redis, telemetry)
	components, err := bootstrap.Setup(ctx, "weftd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap weftd: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize engine container (singleton pattern - all components created once)
	engine, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize engine container: %v\n", err)
		os.Exit(1)
	}

	// Initialize Echo server
	e := setupEcho()

	// Setup middleware
	setupMiddleware(e)

	// Setup health check
	setupHealthCheck(e, components)

	// The server's closing signal must be wired before routes so event
	// streams can watch it.
	srv := server.New("weftd", components.Config.Service.Port, e, components.Logger)
	engine.Closing = srv.Closing()

	// Register all routes
	registerRoutes(e, engine)

	// Re-activate workflows that were active before the last shutdown
	restoreActiveWorkflows(ctx, engine)

	// Expire overdue human interactions in the background
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if components.Config.Features.EnableInteractionSweep {
		go engine.Sweeper.Run(sweepCtx)
	}

	// Shutdown order: stop spawning (triggers), then drain executions; the
	// server closes listeners and event streams after the hooks return.
	srv.OnShutdown(func(shutdownCtx context.Context) {
		stopSweep()
		engine.Triggers.Shutdown(shutdownCtx)
		if err := engine.Orchestrator.Drain(shutdownCtx); err != nil {
			components.Logger.Warn("drain incomplete, cancelled remaining executions", "error", err)
		}
	})

	// Start server (blocks until a fatal error or shutdown signal)
	startServer(srv, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": "weftd",
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "weftd",
		})
	})
}

// registerRoutes registers all application routes using the engine container
func registerRoutes(e *echo.Echo, engine *container.Container) {
	routes.RegisterWorkflowRoutes(e, engine)
	routes.RegisterExecutionRoutes(e, engine)
	routes.RegisterCredentialRoutes(e, engine)
	routes.RegisterOpsRoutes(e, engine)
}

// restoreActiveWorkflows re-arms trigger monitoring for workflows whose
// active flag survived the last shutdown. A workflow that no longer
// activates (deleted trigger node, bad config) is logged and skipped rather
// than blocking startup.
func restoreActiveWorkflows(ctx context.Context, engine *container.Container) {
	log := engine.Components.Logger

	active, err := engine.WorkflowRepo.ListActive(ctx)
	if err != nil {
		log.Error("failed to list active workflows", "error", err)
		return
	}

	restored := 0
	for _, wf := range active {
		if err := engine.Triggers.Activate(ctx, wf.WorkflowID); err != nil {
			log.Warn("could not restore workflow activation",
				"workflow_id", wf.WorkflowID, "name", wf.Name, "error", err)
			continue
		}
		restored++
	}
	if len(active) > 0 {
		log.Info("restored active workflows", "restored", restored, "total", len(active))
	}
}

// startServer starts the server on the configured port
func startServer(srv *server.Server, components *bootstrap.Components) {
	components.Logger.Info("starting weftd", "port", components.Config.Service.Port)

	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
