package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/datasync/cmd/datasync/container"
	"github.com/lyzr/datasync/cmd/datasync/routes"
	"github.com/lyzr/datasync/common/bootstrap"
	"github.com/lyzr/datasync/common/metrics"
	"github.com/lyzr/datasync/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (logger, remote DB, redis, cache, telemetry)
	components, err := bootstrap.Setup(ctx, "datasync")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap datasync: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	system := metrics.GetSystemInfo()
	components.Logger.Info("host detected",
		"hostname", system.Hostname,
		"os", system.OSVersion,
		"cpu_cores", system.CPUCores,
		"memory_mb", system.TotalMemoryMB,
		"container", system.ContainerRuntime,
	)

	// Initialize service container (all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		components.Logger.Error("Failed to initialize service container", "error", err)
		components.Shutdown(ctx)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	registerRoutes(e, serviceContainer)

	startServer(e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterHealthRoutes(e, serviceContainer)
	routes.RegisterDatasetRoutes(e, serviceContainer)
}

// startServer serves until a shutdown signal arrives
func startServer(e *echo.Echo, components *bootstrap.Components) {
	srv := server.New("datasync", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("Server error", "error", err)
		components.Shutdown(context.Background())
		os.Exit(1)
	}
}
