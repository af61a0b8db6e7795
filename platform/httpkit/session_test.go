package httpkit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"leadrelay/platform/apperr"

	"github.com/gin-gonic/gin"
)

type dashboardConfig struct {
	key string
	ttl time.Duration
}

func (d dashboardConfig) GetAdminKey() string                   { return d.key }
func (d dashboardConfig) GetDashboardSessionTTL() time.Duration { return d.ttl }
func (d dashboardConfig) GetCookieSecure() bool                 { return false }

func TestSessionRoundTrip(t *testing.T) {
	cfg := dashboardConfig{key: "s3cret", ttl: 24 * time.Hour}

	token, err := IssueSession(cfg, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := ValidateSession(cfg, token); err != nil {
		t.Fatalf("expected valid session, got %v", err)
	}
	if err := ValidateSession(dashboardConfig{key: "other", ttl: time.Hour}, token); err == nil {
		t.Fatal("expected token signed with another key to be rejected")
	}

	expired, _ := IssueSession(cfg, time.Now().Add(-48*time.Hour))
	if err := ValidateSession(cfg, expired); err == nil {
		t.Fatal("expected expired session to be rejected")
	}
}

func TestSessionRequired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := dashboardConfig{key: "s3cret", ttl: time.Hour}

	r := gin.New()
	r.POST("/x", SessionRequired(cfg), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", rec.Code)
	}

	token, _ := IssueSession(cfg, time.Now())
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with session, got %d", rec.Code)
	}
}

func TestHandleErrorMapsKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		want int
	}{
		{apperr.NotFound("lead not found"), http.StatusNotFound},
		{apperr.BadRequest("invalid action"), http.StatusBadRequest},
		{apperr.Internal("corrupt lead"), http.StatusInternalServerError},
		{http.ErrHandlerTimeout, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		HandleError(c, tc.err)
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}
