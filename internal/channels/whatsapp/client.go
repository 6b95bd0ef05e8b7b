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
)

const (
	defaultGraphAPIBase = "https://graph.facebook.com/v18.0"
	defaultHTTPTimeout  = 10 * time.Second
	maxResponseBytes    = 64 << 10
)

// Credentials identify the business number a message is sent from.
type Credentials struct {
	AccessToken   string `json:"-"`
	PhoneNumberID string `json:"phone_number_id"`
}

func (c Credentials) validate() error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return errors.New("whatsapp: access token required")
	}
	if strings.TrimSpace(c.PhoneNumberID) == "" {
		return errors.New("whatsapp: phone number id required")
	}
	return nil
}

// Client posts payloads to the WhatsApp Cloud (Graph) API.
type Client struct {
	graphAPIBase string
	timeout      time.Duration
	httpClient   *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithGraphAPIBase overrides the Graph API base URL (useful for testing).
func WithGraphAPIBase(base string) ClientOption {
	return func(c *Client) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			c.graphAPIBase = base
		}
	}
}

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a new Graph API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		graphAPIBase: defaultGraphAPIBase,
		timeout:      defaultHTTPTimeout,
		httpClient:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post sends one payload. Non-2xx responses are returned as *APIError.
func (c *Client) Post(ctx context.Context, creds Credentials, payload OutboundPayload) (*SendResponse, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s/messages", c.graphAPIBase, creds.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: read response: %w", err)
	}

	var sendResp SendResponse
	decodeErr := json.Unmarshal(respBody, &sendResp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || sendResp.Error != nil {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		if sendResp.Error != nil {
			apiErr.Code = sendResp.Error.Code
			apiErr.Subcode = sendResp.Error.ErrorSubcode
			apiErr.Type = sendResp.Error.Type
			apiErr.Message = sendResp.Error.Message
			apiErr.TraceID = sendResp.Error.FBTraceID
		}
		return &sendResp, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("whatsapp: unmarshal response: %w", decodeErr)
	}
	return &sendResp, nil
}
