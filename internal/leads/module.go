// Package leads provides the lead lifecycle bounded context module.
// This file defines the module that encapsulates dashboard setup and route registration.
package leads

import (
	"net/http"
	"time"

	apphttp "leadrelay/internal/http"
	"leadrelay/internal/leads/handler"
	"leadrelay/internal/leads/service"
	"leadrelay/platform/config"
	"leadrelay/platform/logger"
	"leadrelay/platform/validator"

	"github.com/gin-gonic/gin"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the leads module around an already built lifecycle engine.
// The engine is shared with the webhook and the scheduler.
func NewModule(svc *service.Service, val *validator.Validator, dashboard config.DashboardConfig, loc *time.Location, log *logger.Logger) *Module {
	return &Module{
		handler: handler.New(svc, val, dashboard, loc, log),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Service returns the lifecycle engine for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the dashboard routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	sessionRequired := ctx.SessionRequired
	if sessionRequired == nil {
		sessionRequired = func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	}
	loginLimit := func(c *gin.Context) { c.Next() }
	if ctx.LoginRateLimiter != nil {
		loginLimit = ctx.LoginRateLimiter.RateLimit()
	}
	m.handler.RegisterRoutes(ctx.Engine, sessionRequired, loginLimit)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
