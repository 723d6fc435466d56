// Package email delivers transactional mail through the Postmark API.
package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	postmarkURL      = "https://api.postmarkapp.com/email"
	messageStream    = "outbound"
	tagPasswordReset = "password-reset"
)

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether mail can be sent. A nil client is unconfigured.
func (c *Client) Configured() bool {
	return c != nil && c.serverToken != ""
}

type message struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	TextBody      string `json:"TextBody"`
	Tag           string `json:"Tag,omitempty"`
	MessageStream string `json:"MessageStream"`
}

// APIError is a rejection reported by Postmark.
type APIError struct {
	Status    int
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("postmark: status %d", e.Status)
	}
	return fmt.Sprintf("postmark: status %d, code %d: %s", e.Status, e.ErrorCode, e.Message)
}

// SendPasswordReset emails a single-use password reset link.
func (c *Client) SendPasswordReset(toEmail, token string, ttl time.Duration) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured")
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", c.baseURL, url.QueryEscape(token))
	hours := int(ttl.Hours())
	return c.send(message{
		From:    c.fromEmail,
		To:      toEmail,
		Subject: "Reset your CampusKubo password",
		TextBody: fmt.Sprintf(
			"We received a request to reset your CampusKubo password.\n\n%s\n\nThis link expires in %d hours. If you did not ask for a reset you can ignore this email.",
			link, hours,
		),
		HtmlBody: fmt.Sprintf(
			`<p>We received a request to reset your CampusKubo password.</p><p><a href="%s">Reset your password</a></p><p>This link expires in %d hours. If you did not ask for a reset you can ignore this email.</p>`,
			link, hours,
		),
		Tag:           tagPasswordReset,
		MessageStream: messageStream,
	})
}

func (c *Client) send(m message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
		json.Unmarshal(data, apiErr)
	}
	return apiErr
}
