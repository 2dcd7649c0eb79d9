package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/datasync/cmd/datasync/container"
	"github.com/lyzr/datasync/cmd/datasync/handlers"
	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/common/middleware"
)

// RegisterDatasetRoutes registers the websocket session and the ledger/blob routes
func RegisterDatasetRoutes(e *echo.Echo, c *container.Container) {
	// Create handlers using services from container
	sessions := handlers.NewSessionHandler(c)
	h := handlers.NewDatasetHandler(c)

	var sessionMiddleware []echo.MiddlewareFunc
	if c.SessionLimiter != nil {
		rl := c.Components.Config.RateLimit
		sessionMiddleware = append(sessionMiddleware,
			middleware.SessionRateLimit(c.SessionLimiter, rl.Sessions, rl.Window, c.Components.Logger))
	}

	ds := e.Group("/dataset")
	{
		ds.GET("/get", sessions.GetDatasets, sessionMiddleware...)  // GET /dataset/get (websocket)
		ds.GET("/versions/:rid", h.GetVersions)                     // GET /dataset/versions/alpha-id
		ds.GET("/list", h.ListDatasets)                             // GET /dataset/list
		ds.POST("/info", h.Info)                                    // POST /dataset/info
		ds.POST("/zip", h.Zip)                                      // POST /dataset/zip
		ds.POST("/unzip", h.Unzip)                                  // POST /dataset/unzip
		ds.POST("/delete/raw", h.Delete(models.Raw))                // POST /dataset/delete/raw
		ds.POST("/delete/zip", h.Delete(models.Compressed))         // POST /dataset/delete/zip
		ds.POST("/delete", h.Delete(models.Raw, models.Compressed)) // POST /dataset/delete
		ds.GET("/blob/:sha256/:rep", h.GetBlob)                     // GET /dataset/blob/<sha256>/zip
	}
}

// RegisterHealthRoutes registers the liveness and health endpoints
func RegisterHealthRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewHealthHandler(c.Components)

	e.GET("/", h.Root)
	e.GET("/health", h.Health)
}
