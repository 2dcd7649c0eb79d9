package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/datasync/common/cache"
	"github.com/lyzr/datasync/common/config"
	"github.com/lyzr/datasync/common/db"
	"github.com/lyzr/datasync/common/logger"
	rediscommon "github.com/lyzr/datasync/common/redis"
	"github.com/lyzr/datasync/common/telemetry"
)

// Components holds all initialized service dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB
	Redis     *rediscommon.Client
	Cache     cache.Cache
	Telemetry *telemetry.Telemetry

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	c.cleanupFuncs = nil

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of all components
func (c *Components) Health(ctx context.Context) map[string]string {
	status := map[string]string{}

	if c.DB != nil {
		status["database"] = "ok"
		if err := c.DB.Health(ctx); err != nil {
			status["database"] = err.Error()
		}
	}

	if c.Redis != nil {
		status["redis"] = "ok"
		if err := c.Redis.Ping(ctx); err != nil {
			status["redis"] = err.Error()
		}
	}

	// Memory cache is always healthy

	return status
}

// Healthy reports whether every entry of a Health map is ok
func Healthy(status map[string]string) bool {
	for _, s := range status {
		if s != "ok" {
			return false
		}
	}
	return true
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// AddCleanup registers a cleanup function run by Shutdown, LIFO
func (c *Components) AddCleanup(fn func() error) {
	c.addCleanup(fn)
}
