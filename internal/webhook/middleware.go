package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"leadrelay/platform/logger"

	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the HMAC-SHA256 of the raw body keyed with the app secret.
const SignatureHeader = "X-Hub-Signature-256"

const maxBodyBytes = 1 << 20

var (
	errMissingSignature  = errors.New("missing " + SignatureHeader)
	errBadSignature      = errors.New("invalid " + SignatureHeader + " format")
	errSignatureMismatch = errors.New("signature mismatch")
)

// VerifySignature checks header against body. header has the form "sha256=<hex>".
func VerifySignature(secret string, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return errMissingSignature
	}
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return errBadSignature
	}
	provided, err := hex.DecodeString(hexSig)
	if err != nil {
		return errBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return errSignatureMismatch
	}
	return nil
}

// SignatureMiddleware rejects POST bodies not signed with secret. An empty secret disables the check.
// The body is restored for the next handler.
func SignatureMiddleware(secret string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
			return
		}
		if err := VerifySignature(secret, raw, c.GetHeader(SignatureHeader)); err != nil {
			log.Warn("webhook signature rejected", "reason", err.Error(), "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		c.Next()
	}
}
