// Package webhook receives Graph webhook deliveries: lead form submissions,
// inbound WhatsApp messages and delivery statuses.
package webhook

import (
	apphttp "leadrelay/internal/http"
	"leadrelay/platform/config"
	"leadrelay/platform/logger"
	"leadrelay/platform/metrics"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	secret  string
	log     *logger.Logger
}

// NewModule creates and initializes the webhook module with all its dependencies.
func NewModule(cfg config.WebhookConfig, leads LeadIngester, statuses StatusHandler, messages MessageRouter, m *metrics.Metrics, log *logger.Logger) *Module {
	if log == nil {
		log = logger.Nop()
	}
	service := NewService(leads, statuses, messages, m, log)
	return &Module{
		handler: NewHandler(service, cfg.GetVerifyToken(), log),
		secret:  cfg.GetAppSecret(),
		log:     log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Engine.Group("/webhook")
	group.Use(SignatureMiddleware(m.secret, m.log))
	group.GET("", m.handler.HandleVerify)
	group.POST("", m.handler.HandleEvent)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
