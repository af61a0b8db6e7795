package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"leadrelay/platform/config"
)

func TestAPISenderPostsRenderedLead(t *testing.T) {
	var got apiEmailRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := &config.Config{
		EmailEnabled:     true,
		EmailAPIURL:      srv.URL,
		EmailAPIKey:      "key-123",
		EmailFromName:    "Lead Relay",
		EmailFromAddress: "noreply@example.com",
	}
	sender, err := NewAPISenderWithHTTP(cfg, srv.Client())
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}

	err = sender.SendLeadNotification(context.Background(), "owner@example.com", LeadNotification{
		Name:      "Mario <Rossi>",
		Phone:     "+393331234567",
		Counter:   7,
		WelcomeAt: time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if auth != "Bearer key-123" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if got.From != "Lead Relay <noreply@example.com>" || len(got.To) != 1 || got.To[0] != "owner@example.com" {
		t.Fatalf("unexpected envelope %+v", got)
	}
	if got.Subject != "New lead: Mario <Rossi>" {
		t.Fatalf("unexpected subject %q", got.Subject)
	}
	if !strings.Contains(got.HTML, "Mario &lt;Rossi&gt;") || strings.Contains(got.HTML, "<Rossi>") {
		t.Fatal("expected escaped name in html body")
	}
	if !strings.Contains(got.Text, "Phone: +393331234567") || !strings.Contains(got.Text, "02/06/2025 10:30") {
		t.Fatalf("unexpected text body %q", got.Text)
	}
}

func TestAPISenderReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sender, err := NewAPISenderWithHTTP(&config.Config{EmailAPIURL: srv.URL, EmailAPIKey: "k"}, srv.Client())
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	err = sender.SendDeliveryAlert(context.Background(), "owner@example.com", DeliveryAlert{Phone: "+393331234567", Summary: "x"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestAlertMessageMentionsRetry(t *testing.T) {
	next := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	msg, err := alertMessage(DeliveryAlert{
		Phone:      "+393331234567",
		Summary:    "Rate limit reached for this number (we will retry in a few hours)",
		RetryCount: 1,
		NextRetry:  &next,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.subject != "WhatsApp delivery problem: +393331234567" {
		t.Fatalf("unexpected subject %q", msg.subject)
	}
	if !strings.Contains(msg.html, "Retry 1 is scheduled for 02/06/2025 14:00") {
		t.Fatalf("expected retry line in html, got %s", msg.html)
	}

	msg, err = alertMessage(DeliveryAlert{Phone: "+393331234567", Summary: "blocked", Permanent: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(msg.text, "No further automated messages") {
		t.Fatalf("unexpected text %q", msg.text)
	}
}

func TestNewSenderSelectsTransport(t *testing.T) {
	cases := []struct {
		name string
		cfg  *config.Config
		want string
	}{
		{"disabled", &config.Config{}, "noop"},
		{"smtp", &config.Config{EmailEnabled: true, SMTPHost: "smtp.example.com", SMTPPort: 587}, "smtp"},
		{"api", &config.Config{EmailEnabled: true, EmailAPIURL: "https://mail.example.com", EmailAPIKey: "k"}, "api"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender, err := NewSender(tc.cfg)
			if err != nil {
				t.Fatalf("new sender: %v", err)
			}
			var kind string
			switch sender.(type) {
			case NoopSender:
				kind = "noop"
			case *SMTPSender:
				kind = "smtp"
			case *APISender:
				kind = "api"
			}
			if kind != tc.want {
				t.Fatalf("expected %s sender, got %T", tc.want, sender)
			}
		})
	}

	if _, err := NewSender(&config.Config{EmailEnabled: true}); err == nil {
		t.Fatal("expected error without api url or smtp host")
	}
}
