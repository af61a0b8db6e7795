// Package http provides HTTP server infrastructure including the Module interface
// that all domain modules must implement for route registration.
package http

import (
	"leadrelay/platform/config"
	"leadrelay/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Module represents a bounded context that can register its HTTP routes.
// Each domain module implements this interface to encapsulate its own
// route setup, keeping the main router decoupled from specific endpoints.
type Module interface {
	// Name returns the module's identifier for logging purposes.
	Name() string
	// RegisterRoutes mounts the module's routes on the provided router group.
	// The RouterContext provides access to shared middleware and configuration.
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext provides shared dependencies for module route registration.
type RouterContext struct {
	// Engine is the root Gin engine; the webhook and dashboard live at fixed root paths.
	Engine *gin.Engine
	// API is the /api route group.
	API *gin.RouterGroup
	// Dashboard is the dashboard session configuration.
	Dashboard config.DashboardConfig
	// SessionRequired rejects requests without a valid dashboard session.
	SessionRequired gin.HandlerFunc
	// LoginRateLimiter is the stricter rate limiter for the dashboard login.
	LoginRateLimiter *httpkit.IPRateLimiter
}
