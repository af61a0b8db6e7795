package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesRecordedCounters(t *testing.T) {
	m := New()
	m.MessageSent("welcome", nil)
	m.MessageSent("welcome", errors.New("boom"))
	m.RelayRoute("user_to_owner")
	m.SweepAction("followup1")
	m.SweepCompleted(150 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`leadrelay_messages_sent_total{kind="welcome",outcome="ok"} 1`,
		`leadrelay_messages_sent_total{kind="welcome",outcome="error"} 1`,
		`leadrelay_relay_routes_total{route="user_to_owner"} 1`,
		`leadrelay_sweep_actions_total{action="followup1"} 1`,
		`leadrelay_sweep_runs_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.MessageSent("welcome", nil)
	m.WebhookEvent("status", nil)
	m.RelayRoute("dropped")
	m.SweepAction("cleanup")
	m.SweepCompleted(time.Second)
}
