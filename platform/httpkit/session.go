package httpkit

import (
	"errors"
	"net/http"
	"time"

	"leadrelay/platform/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionCookieName is the dashboard session cookie.
	SessionCookieName = "ldash"

	sessionSubject = "dashboard"
)

var errInvalidSession = errors.New("invalid session")

// IssueSession signs a dashboard session token valid for ttl.
func IssueSession(cfg config.DashboardConfig, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   sessionSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(cfg.GetDashboardSessionTTL())),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.GetAdminKey()))
}

// ValidateSession checks a token produced by IssueSession.
func ValidateSession(cfg config.DashboardConfig, raw string) error {
	if raw == "" {
		return errInvalidSession
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(cfg.GetAdminKey()), nil
	})
	if err != nil || !parsed.Valid || claims.Subject != sessionSubject {
		return errInvalidSession
	}
	return nil
}

// SetSessionCookie writes the session cookie (SameSite=Lax, Path=/).
func SetSessionCookie(c *gin.Context, cfg config.DashboardConfig, token string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.GetDashboardSessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   cfg.GetCookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
}

// HasSession reports whether the request carries a valid dashboard session.
func HasSession(c *gin.Context, cfg config.DashboardConfig) bool {
	raw, err := c.Cookie(SessionCookieName)
	if err != nil {
		return false
	}
	return ValidateSession(cfg, raw) == nil
}

// SessionRequired rejects requests without a valid dashboard session with 401.
func SessionRequired(cfg config.DashboardConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasSession(c, cfg) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}
