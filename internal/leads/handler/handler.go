// Package handler serves the leads dashboard and its action endpoint.
package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"leadrelay/internal/leads/service"
	"leadrelay/internal/leads/transport"
	"leadrelay/platform/config"
	"leadrelay/platform/httpkit"
	"leadrelay/platform/logger"
	"leadrelay/platform/validator"

	"github.com/gin-gonic/gin"
)

// Route paths.
const (
	DashboardPath  = "/leads-dashboard"
	LoginPath      = "/leads-dashboard/login"
	LeadActionPath = "/lead-action"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgWrongKey         = "Wrong access key"
)

// LeadService is the part of the lifecycle engine the dashboard drives.
type LeadService interface {
	Action(ctx context.Context, action, phone string) (service.ActionResult, error)
	Overview(ctx context.Context) (service.Overview, error)
}

type Handler struct {
	svc LeadService
	val *validator.Validator
	cfg config.DashboardConfig
	loc *time.Location
	log *logger.Logger
	now func() time.Time
}

func New(svc LeadService, val *validator.Validator, cfg config.DashboardConfig, loc *time.Location, log *logger.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{svc: svc, val: val, cfg: cfg, loc: loc, log: log, now: time.Now}
}

// RegisterRoutes mounts the dashboard pages and the action endpoint.
func (h *Handler) RegisterRoutes(r gin.IRoutes, sessionRequired gin.HandlerFunc, loginLimit gin.HandlerFunc) {
	r.GET(DashboardPath, h.Dashboard)
	r.POST(LoginPath, loginLimit, h.Login)
	r.POST(LeadActionPath, sessionRequired, h.LeadAction)
}

// Login checks the access key and starts a session.
func (h *Handler) Login(c *gin.Context) {
	key := strings.TrimSpace(c.PostForm("key"))
	admin := h.cfg.GetAdminKey()
	if admin == "" || subtle.ConstantTimeCompare([]byte(key), []byte(admin)) != 1 {
		h.log.AuthEvent("dashboard_login", false, "wrong key")
		h.renderLogin(c, http.StatusUnauthorized, msgWrongKey)
		return
	}

	token, err := httpkit.IssueSession(h.cfg, h.now())
	if err != nil {
		h.log.Error("failed to issue dashboard session", "error", err)
		h.renderLogin(c, http.StatusInternalServerError, "Login unavailable")
		return
	}
	httpkit.SetSessionCookie(c, h.cfg, token)
	h.log.AuthEvent("dashboard_login", true, "")
	c.Redirect(http.StatusFound, DashboardPath)
}

// Dashboard renders the pending leads, or the login form without a session.
func (h *Handler) Dashboard(c *gin.Context) {
	if !httpkit.HasSession(c, h.cfg) {
		h.renderLogin(c, http.StatusOK, "")
		return
	}

	overview, err := h.svc.Overview(c.Request.Context())
	if err != nil {
		h.log.WithContext(c.Request.Context()).Error("dashboard overview failed", "error", err)
		c.String(http.StatusInternalServerError, "dashboard unavailable")
		return
	}
	h.render(c, http.StatusOK, "dashboard", newDashboardView(overview, h.loc))
}

// LeadAction runs welcome, f1, f2 or delete on one lead.
func (h *Handler) LeadAction(c *gin.Context) {
	var req transport.LeadActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	res, err := h.svc.Action(c.Request.Context(), strings.TrimSpace(req.Action), req.Phone)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.LeadActionResponse{Message: res.Message, MessageID: res.MessageID})
}
