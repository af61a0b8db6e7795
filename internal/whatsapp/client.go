// Package whatsapp is the client for the WhatsApp Business Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadrelay/platform/config"
	"leadrelay/platform/logger"
)

const messagingProduct = "whatsapp"

// ErrNoMessageID is returned when the API accepts a send but returns no message id.
var ErrNoMessageID = errors.New("whatsapp response without message id")

// APIError is a non-2xx answer from the messages endpoint.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("whatsapp api returned %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("whatsapp api returned %d: %s", e.Status, e.Message)
}

// Client sends template and text messages from one business phone number.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	log      *logger.Logger
}

type language struct {
	Code string `json:"code"`
}

type parameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []parameter `json:"parameters"`
}

type template struct {
	Name       string      `json:"name"`
	Language   language    `json:"language"`
	Components []component `json:"components,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string    `json:"messaging_product"`
	To               string    `json:"to"`
	Type             string    `json:"type"`
	Template         *template `json:"template,omitempty"`
	Text             *textBody `json:"text,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func NewClient(cfg config.WhatsAppConfig, log *logger.Logger) *Client {
	return NewClientWithHTTP(cfg, &http.Client{Timeout: 15 * time.Second}, log)
}

// NewClientWithHTTP lets tests point the client at an httptest server.
func NewClientWithHTTP(cfg config.WhatsAppConfig, hc *http.Client, log *logger.Logger) *Client {
	endpoint := fmt.Sprintf("%s/%s/%s/messages",
		strings.TrimRight(cfg.GetGraphBaseURL(), "/"),
		cfg.GetGraphAPIVersion(),
		cfg.GetWhatsAppPhoneID(),
	)
	return &Client{
		endpoint: endpoint,
		token:    cfg.GetWhatsAppToken(),
		http:     hc,
		log:      log,
	}
}

// SendTemplate sends a template whose body parameters are params, in order.
// It returns the outbound message id.
func (c *Client) SendTemplate(ctx context.Context, to string, spec config.TemplateSpec, params ...string) (string, error) {
	tpl := &template{Name: spec.Name, Language: language{Code: spec.Language}}
	if len(params) > 0 {
		body := component{Type: "body", Parameters: make([]parameter, 0, len(params))}
		for _, p := range params {
			body.Parameters = append(body.Parameters, parameter{Type: "text", Text: p})
		}
		tpl.Components = []component{body}
	}

	return c.send(ctx, sendRequest{
		MessagingProduct: messagingProduct,
		To:               recipient(to),
		Type:             "template",
		Template:         tpl,
	})
}

// SendText sends free-form text. Only valid inside an open session window.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, sendRequest{
		MessagingProduct: messagingProduct,
		To:               recipient(to),
		Type:             "text",
		Text:             &textBody{Body: body},
	})
}

func (c *Client) send(ctx context.Context, payload sendRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read whatsapp response: %w", err)
	}

	var parsed sendResponse
	_ = json.Unmarshal(data, &parsed)

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		if parsed.Error != nil {
			apiErr.Code = parsed.Error.Code
			apiErr.Message = parsed.Error.Message
		}
		return "", apiErr
	}

	if len(parsed.Messages) == 0 || parsed.Messages[0].ID == "" {
		return "", ErrNoMessageID
	}

	id := parsed.Messages[0].ID
	c.log.Debug("whatsapp message sent", "type", payload.Type, "to", payload.To, "message_id", id)
	return id, nil
}

// recipient formats a canonical +E.164 phone the way the API expects it (digits only).
func recipient(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), "+")
}
