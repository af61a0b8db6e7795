// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"leadrelay/internal/events"
	"leadrelay/platform/config"
	"leadrelay/platform/logger"
	"leadrelay/platform/metrics"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.DashboardConfig
	GetEnv() string
}

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	// Config holds the router configuration.
	Config RouterConfig
	// Logger is the structured logger.
	Logger *logger.Logger
	// Health is used for readiness checks (store ping).
	Health HealthChecker
	// Metrics serves /metrics and instruments requests. Optional.
	Metrics *metrics.Metrics
	// EventBus is the domain event bus for cross-module communication.
	EventBus events.Bus
	// Modules contains all HTTP-facing domain modules.
	Modules []Module
}
