package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"leadrelay/platform/httpkit"
	"leadrelay/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	errInvalidRequest = "invalid request body"
	ackBody           = "EVENT_RECEIVED"
)

// Handler handles webhook HTTP requests.
type Handler struct {
	service     *Service
	verifyToken string
	log         *logger.Logger
}

// NewHandler creates a new webhook handler.
func NewHandler(service *Service, verifyToken string, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{service: service, verifyToken: verifyToken, log: log}
}

// HandleVerify answers the subscription handshake.
// GET /webhook?hub.mode=subscribe&hub.verify_token=...&hub.challenge=...
func (h *Handler) HandleVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) == 1 {
		h.log.Info("webhook subscription verified")
		c.String(http.StatusOK, "%s", challenge)
		return
	}

	h.log.Warn("webhook verification rejected", "mode", mode, "client_ip", c.ClientIP())
	c.String(http.StatusForbidden, "forbidden")
}

// HandleEvent processes a delivery and always acknowledges it, except for unreadable bodies.
// POST /webhook
func (h *Handler) HandleEvent(c *gin.Context) {
	var payload Payload
	if err := json.NewDecoder(io.LimitReader(c.Request.Body, maxBodyBytes)).Decode(&payload); err != nil {
		h.log.Warn("unparseable webhook body", "error", err)
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return
	}

	batch := Extract(payload)
	if !batch.Empty() {
		// finish the work even if the caller hangs up
		ctx := context.WithoutCancel(c.Request.Context())
		res := h.service.Process(ctx, batch)
		if res.Failed > 0 {
			h.log.WithContext(ctx).Warn("webhook delivery partially failed", "processed", res.Processed, "failed", res.Failed)
		}
	}

	c.String(http.StatusOK, ackBody)
}
