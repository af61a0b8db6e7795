// Package leadads fetches lead form submissions from the Graph API.
package leadads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leadrelay/platform/config"
	"leadrelay/platform/logger"
)

// Field names vary between form versions; the first non-empty match wins.
var (
	phoneFields = []string{"phone_number", "phone"}
	nameFields  = []string{"full_name", "name"}
	emailFields = []string{"email", "e-mail"}
)

// Lead is the subset of a lead form submission the relay cares about.
type Lead struct {
	ID    string
	Name  string
	Phone string
	Email string
}

type fieldData struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

type leadResponse struct {
	ID        string      `json:"id"`
	FieldData []fieldData `json:"field_data"`
	Error     *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger
}

func NewClient(cfg config.LeadAdsConfig, log *logger.Logger) *Client {
	return NewClientWithHTTP(cfg, &http.Client{Timeout: 15 * time.Second}, log)
}

// NewClientWithHTTP lets tests point the client at an httptest server.
func NewClientWithHTTP(cfg config.LeadAdsConfig, hc *http.Client, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.GetGraphBaseURL(), "/") + "/" + cfg.GetGraphAPIVersion(),
		token:   cfg.GetLeadAdsToken(),
		http:    hc,
		log:     log,
	}
}

// FetchLead loads the submission identified by leadgenID. Missing fields are returned empty.
func (c *Client) FetchLead(ctx context.Context, leadgenID string) (Lead, error) {
	endpoint := fmt.Sprintf("%s/%s?access_token=%s", c.baseURL, url.PathEscape(leadgenID), url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Lead{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Lead{}, fmt.Errorf("lead fetch failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Lead{}, fmt.Errorf("read lead response: %w", err)
	}

	var parsed leadResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Lead{}, fmt.Errorf("decode lead %s: %w", leadgenID, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || parsed.Error != nil {
		msg := strings.TrimSpace(string(data))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return Lead{}, fmt.Errorf("lead api returned %d: %s", resp.StatusCode, msg)
	}

	lead := Lead{
		ID:    leadgenID,
		Name:  firstValue(parsed.FieldData, nameFields),
		Phone: firstValue(parsed.FieldData, phoneFields),
		Email: firstValue(parsed.FieldData, emailFields),
	}
	c.log.Debug("lead fetched", "leadgen_id", leadgenID, "fields", len(parsed.FieldData))
	return lead, nil
}

func firstValue(fields []fieldData, names []string) string {
	for _, name := range names {
		for _, f := range fields {
			if f.Name != name {
				continue
			}
			for _, v := range f.Values {
				if v = strings.TrimSpace(v); v != "" {
					return v
				}
			}
		}
	}
	return ""
}
