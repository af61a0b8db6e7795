package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"leadrelay/internal/leads/domain"
	"leadrelay/internal/leads/service"
	"leadrelay/platform/apperr"
	"leadrelay/platform/httpkit"
	"leadrelay/platform/phone"
	"leadrelay/platform/validator"

	"github.com/gin-gonic/gin"
)

type dashboardConfig struct{ key string }

func (d dashboardConfig) GetAdminKey() string                   { return d.key }
func (d dashboardConfig) GetDashboardSessionTTL() time.Duration { return 24 * time.Hour }
func (d dashboardConfig) GetCookieSecure() bool                 { return false }

type actionCall struct{ action, phone string }

type fakeService struct {
	calls    []actionCall
	result   service.ActionResult
	err      error
	overview service.Overview
}

func (f *fakeService) Action(_ context.Context, action, phone string) (service.ActionResult, error) {
	f.calls = append(f.calls, actionCall{action, phone})
	return f.result, f.err
}

func (f *fakeService) Overview(context.Context) (service.Overview, error) {
	return f.overview, nil
}

func newTestRouter(svc *fakeService) (*gin.Engine, dashboardConfig) {
	gin.SetMode(gin.TestMode)
	cfg := dashboardConfig{key: "s3cret"}
	h := New(svc, validator.New(phone.NewNormalizer("39", "3")), cfg, time.UTC, nil)
	r := gin.New()
	h.RegisterRoutes(r, httpkit.SessionRequired(cfg), func(c *gin.Context) { c.Next() })
	return r, cfg
}

func sessionCookie(t *testing.T, cfg dashboardConfig) *http.Cookie {
	t.Helper()
	token, err := httpkit.IssueSession(cfg, time.Now())
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return &http.Cookie{Name: httpkit.SessionCookieName, Value: token}
}

func postLogin(r *gin.Engine, key string) *httptest.ResponseRecorder {
	form := url.Values{"key": {key}}
	req := httptest.NewRequest(http.MethodPost, LoginPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestLogin(t *testing.T) {
	r, _ := newTestRouter(&fakeService{})

	rec := postLogin(r, "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), msgWrongKey) {
		t.Fatal("expected login page with error message")
	}

	rec = postLogin(r, "s3cret")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != DashboardPath {
		t.Fatalf("expected redirect to %s, got %q", DashboardPath, loc)
	}
	cookie := rec.Result().Cookies()
	if len(cookie) != 1 || cookie[0].Name != httpkit.SessionCookieName || cookie[0].MaxAge != 86400 {
		t.Fatalf("unexpected cookies %+v", cookie)
	}
	if cookie[0].Value == "s3cret" {
		t.Fatal("session cookie must not carry the raw key")
	}
}

func TestLoginRejectedWhenKeyUnset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(&fakeService{}, validator.New(phone.NewNormalizer("39", "3")), dashboardConfig{}, time.UTC, nil)
	r := gin.New()
	h.RegisterRoutes(r, func(c *gin.Context) { c.Next() }, func(c *gin.Context) { c.Next() })

	if rec := postLogin(r, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDashboardRequiresSession(t *testing.T) {
	created := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	svc := &fakeService{overview: service.Overview{
		Counter:     7,
		GeneratedAt: created,
		Leads: []service.LeadView{{
			PendingLead: domain.PendingLead{Phone: "+393331234567", Name: "Mario <b>", Created: created.UnixMilli(), SentFirst: true},
			Followup:    domain.FollowupState{Sent1: true},
			Stage:       domain.StageFollowup1Sent,
		}},
	}}
	r, cfg := newTestRouter(svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DashboardPath, nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `name="key"`) {
		t.Fatalf("expected login form without session, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, DashboardPath, nil)
	req.AddCookie(sessionCookie(t, cfg))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	body := rec.Body.String()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	for _, want := range []string{"+393331234567", "Mario &lt;b&gt;", "Welcome sent", "Follow-up 1 sent", "02/06/2025 10:00", "7 leads received"} {
		if !strings.Contains(body, want) {
			t.Fatalf("dashboard missing %q", want)
		}
	}
}

func TestLeadAction(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		session bool
		err     error
		want    int
		calls   int
	}{
		{"no session", `{"action":"f1","phone":"+393331234567"}`, false, nil, http.StatusUnauthorized, 0},
		{"bad json", `{"action":`, true, nil, http.StatusBadRequest, 0},
		{"missing phone", `{"action":"f1"}`, true, nil, http.StatusBadRequest, 0},
		{"invalid action", `{"action":"nope","phone":"+393331234567"}`, true, apperr.BadRequest("invalid action"), http.StatusBadRequest, 1},
		{"not found", `{"action":"f1","phone":"+393331234567"}`, true, apperr.NotFound("lead not found"), http.StatusNotFound, 1},
		{"corrupt", `{"action":"f1","phone":"+393331234567"}`, true, apperr.Internal("corrupt lead"), http.StatusInternalServerError, 1},
		{"ok", `{"action":"f1","phone":"+393331234567"}`, true, nil, http.StatusOK, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{err: tc.err, result: service.ActionResult{Message: "follow-up 1 sent", MessageID: "wamid.1"}}
			r, cfg := newTestRouter(svc)

			req := httptest.NewRequest(http.MethodPost, LeadActionPath, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			if tc.session {
				req.AddCookie(sessionCookie(t, cfg))
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, rec.Code, rec.Body.String())
			}
			if len(svc.calls) != tc.calls {
				t.Fatalf("expected %d service calls, got %d", tc.calls, len(svc.calls))
			}
			if tc.want == http.StatusOK {
				var resp struct {
					Message string `json:"message"`
					MsgID   string `json:"msgId"`
				}
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp.Message != "follow-up 1 sent" || resp.MsgID != "wamid.1" {
					t.Fatalf("unexpected response %+v", resp)
				}
			}
		})
	}
}
