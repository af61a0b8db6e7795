package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"leadrelay/platform/config"
)

const defaultTimeout = 10 * time.Second

// APISender posts messages to an HTTP mail API with a bearer key.
type APISender struct {
	url       string
	apiKey    string
	fromName  string
	fromEmail string
	timeout   time.Duration
	client    *http.Client
}

type apiEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

func NewAPISender(cfg config.EmailConfig) (*APISender, error) {
	return NewAPISenderWithHTTP(cfg, &http.Client{})
}

func NewAPISenderWithHTTP(cfg config.EmailConfig, hc *http.Client) (*APISender, error) {
	if cfg.GetEmailAPIURL() == "" || cfg.GetEmailAPIKey() == "" {
		return nil, errors.New("email api url and key are required")
	}
	timeout := cfg.GetEmailTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &APISender{
		url:       cfg.GetEmailAPIURL(),
		apiKey:    cfg.GetEmailAPIKey(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
		timeout:   timeout,
		client:    hc,
	}, nil
}

func (a *APISender) SendLeadNotification(ctx context.Context, toEmail string, n LeadNotification) error {
	msg, err := leadMessage(n)
	if err != nil {
		return err
	}
	return a.send(ctx, toEmail, msg)
}

func (a *APISender) SendDeliveryAlert(ctx context.Context, toEmail string, alert DeliveryAlert) error {
	msg, err := alertMessage(alert)
	if err != nil {
		return err
	}
	return a.send(ctx, toEmail, msg)
}

func (a *APISender) from() string {
	if a.fromName == "" {
		return a.fromEmail
	}
	return fmt.Sprintf("%s <%s>", a.fromName, a.fromEmail)
}

func (a *APISender) send(ctx context.Context, toEmail string, msg message) error {
	payload, err := json.Marshal(apiEmailRequest{
		From:    a.from(),
		To:      []string{toEmail},
		Subject: msg.subject,
		HTML:    msg.html,
		Text:    msg.text,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("email api request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("email api error: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
