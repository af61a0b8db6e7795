package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"leadrelay/internal/delivery"
	apphttp "leadrelay/internal/http"
	"leadrelay/internal/leads/service"
	"leadrelay/internal/relay"

	"github.com/gin-gonic/gin"
)

type webhookConfig struct {
	token  string
	secret string
}

func (w webhookConfig) GetVerifyToken() string { return w.token }
func (w webhookConfig) GetAppSecret() string   { return w.secret }

type fakeLeads struct{ ids []string }

func (f *fakeLeads) IngestLeadgen(_ context.Context, id string) (service.IngestOutcome, error) {
	f.ids = append(f.ids, id)
	return service.IngestOutcome{Created: true}, nil
}

type fakeStatuses struct{ reports []delivery.StatusReport }

func (f *fakeStatuses) HandleDeliveryStatus(_ context.Context, r delivery.StatusReport) (service.StatusOutcome, error) {
	f.reports = append(f.reports, r)
	return service.StatusIgnored, nil
}

type fakeMessages struct{ msgs []relay.InboundMessage }

func (f *fakeMessages) HandleMessage(_ context.Context, m relay.InboundMessage) (relay.Route, error) {
	f.msgs = append(f.msgs, m)
	if m.ID == "boom" {
		return "", errors.New("store down")
	}
	return relay.RouteToOwner, nil
}

type harness struct {
	engine   *gin.Engine
	leads    *fakeLeads
	statuses *fakeStatuses
	messages *fakeMessages
}

func newHarness(cfg webhookConfig) *harness {
	gin.SetMode(gin.TestMode)
	h := &harness{engine: gin.New(), leads: &fakeLeads{}, statuses: &fakeStatuses{}, messages: &fakeMessages{}}
	mod := NewModule(cfg, h.leads, h.statuses, h.messages, nil, nil)
	mod.RegisterRoutes(&apphttp.RouterContext{Engine: h.engine})
	return h
}

func (h *harness) post(body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const mixedPayload = `{
  "object": "whatsapp_business_account",
  "entry": [
    {"id": "1", "changes": [{"field": "leadgen", "value": {"leadgen_id": 4455, "form_id": "77"}}]},
    {"id": "2", "changes": [{"field": "messages", "value": {
      "messaging_product": "whatsapp",
      "contacts": [{"wa_id": "393331234567", "profile": {"name": "Mario"}}],
      "messages": [
        {"from": "393331234567", "id": "wamid.A", "timestamp": "1717322400", "type": "TEXT", "text": {"body": "ciao"}},
        {"from": "393470000001", "id": "wamid.B", "timestamp": "1717322401", "type": "text", "text": {"body": "hi"}, "context": {"from": "x", "id": "wamid.Q"}}
      ],
      "statuses": [
        {"id": "wamid.S", "status": "Failed", "timestamp": "1717322402", "recipient_id": "393331234567",
         "errors": [{"code": 131047, "title": "Re-engagement", "message": "window", "error_data": {"details": "24h passed"}}]}
      ]
    }}]}
  ]
}`

func TestVerifyHandshake(t *testing.T) {
	h := newHarness(webhookConfig{token: "tok"})

	cases := []struct {
		name  string
		query string
		want  int
		body  string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=tok&hub.challenge=42", http.StatusOK, "42"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=tok&hub.challenge=42", http.StatusForbidden, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?"+tc.query, nil))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("expected challenge echo %q, got %q", tc.body, rec.Body.String())
			}
		})
	}
}

func TestVerifyRejectsWhenTokenUnset(t *testing.T) {
	h := newHarness(webhookConfig{})
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestEventDispatchesEveryUnit(t *testing.T) {
	h := newHarness(webhookConfig{})

	rec := h.post(mixedPayload, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != ackBody {
		t.Fatalf("expected 200 %s, got %d %q", ackBody, rec.Code, rec.Body.String())
	}
	if len(h.leads.ids) != 1 || h.leads.ids[0] != "4455" {
		t.Fatalf("unexpected leadgen ids %v", h.leads.ids)
	}
	if len(h.messages.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(h.messages.msgs))
	}
	first := h.messages.msgs[0]
	if first.Type != relay.MessageTypeText || first.ProfileName != "Mario" || first.Text != "ciao" {
		t.Fatalf("unexpected first message %+v", first)
	}
	if h.messages.msgs[1].ContextID != "wamid.Q" {
		t.Fatalf("expected context id, got %+v", h.messages.msgs[1])
	}
	if len(h.statuses.reports) != 1 {
		t.Fatalf("expected 1 status, got %d", len(h.statuses.reports))
	}
	st := h.statuses.reports[0]
	if st.Status != "failed" || len(st.Errors) != 1 || st.Errors[0].Code != 131047 || st.Errors[0].Details != "24h passed" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestEventAcknowledgesEvenWhenAUnitFails(t *testing.T) {
	h := newHarness(webhookConfig{})
	body := `{"entry":[{"changes":[{"value":{"messages":[
		{"from":"393331234567","id":"boom","type":"text","text":{"body":"x"}},
		{"from":"393331234567","id":"ok","type":"text","text":{"body":"y"}}]}}]}]}`

	rec := h.post(body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(h.messages.msgs) != 2 {
		t.Fatalf("expected the second message to be processed, got %d", len(h.messages.msgs))
	}
}

func TestEventRejectsUnparseableBody(t *testing.T) {
	h := newHarness(webhookConfig{})
	if rec := h.post("{not json", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEventEmptyPayloadIsAcknowledged(t *testing.T) {
	h := newHarness(webhookConfig{})
	if rec := h.post(`{"object":"page","entry":[]}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSignatureEnforcedWhenSecretSet(t *testing.T) {
	h := newHarness(webhookConfig{secret: "appsecret"})
	body := `{"entry":[{"changes":[{"value":{"leadgen_id":"9"}}]}]}`

	if rec := h.post(body, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", rec.Code)
	}
	if rec := h.post(body, map[string]string{SignatureHeader: sign("other", body)}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong signature, got %d", rec.Code)
	}
	if len(h.leads.ids) != 0 {
		t.Fatalf("rejected deliveries must not be processed, got %v", h.leads.ids)
	}

	rec := h.post(body, map[string]string{SignatureHeader: sign("appsecret", body)})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid signature, got %d", rec.Code)
	}
	if len(h.leads.ids) != 1 || h.leads.ids[0] != "9" {
		t.Fatalf("expected body to reach the handler, got %v", h.leads.ids)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	good := sign("s", string(body))

	cases := []struct {
		name   string
		header string
		ok     bool
	}{
		{"valid", good, true},
		{"missing", "", false},
		{"no prefix", strings.TrimPrefix(good, "sha256="), false},
		{"bad hex", "sha256=zz", false},
		{"mismatch", sign("t", string(body)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySignature("s", body, tc.header)
			if (err == nil) != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, err)
			}
		})
	}
}

func TestFlexibleID(t *testing.T) {
	var v struct {
		A FlexibleID `json:"a"`
		B FlexibleID `json:"b"`
		C FlexibleID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"123","b":1234567890123456789,"c":null}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A != "123" || v.B != "1234567890123456789" || v.C != "" {
		t.Fatalf("unexpected ids %+v", v)
	}
}

func TestExtractParsesTimestamps(t *testing.T) {
	b := Extract(Payload{Entry: []Entry{{Changes: []Change{{Value: ChangeValue{
		Messages: []Message{{ID: "m", From: "1", Timestamp: "1717322400", Type: "text"}, {ID: "n", From: "1", Timestamp: "bogus"}},
	}}}}}})
	if len(b.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(b.Messages))
	}
	if b.Messages[0].Timestamp.Unix() != 1717322400 {
		t.Fatalf("unexpected timestamp %v", b.Messages[0].Timestamp)
	}
	if !b.Messages[1].Timestamp.IsZero() {
		t.Fatalf("expected zero timestamp for bogus value")
	}
	if b.Empty() {
		t.Fatal("batch with messages must not be empty")
	}
}
