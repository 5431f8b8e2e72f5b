package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"
)

const defaultAPIURL = "https://api.postmarkapp.com/email"

var ErrNotConfigured = errors.New("email client not configured: missing server token")

type Client struct {
	serverToken string
	fromEmail   string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL points the client at a different Postmark endpoint.
func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		apiURL:      defaultAPIURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody,omitempty"`
	TextBody string `json:"TextBody"`
}

// SendMail sends one transactional email. htmlBody may be empty.
func (c *Client) SendMail(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       to,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
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

	if resp.StatusCode >= 400 {
		var pe struct {
			Message string `json:"Message"`
		}
		if json.NewDecoder(resp.Body).Decode(&pe) == nil && pe.Message != "" {
			return fmt.Errorf("postmark API error: status %d: %s", resp.StatusCode, pe.Message)
		}
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}

// SendOTP emails a one-time code.
func (c *Client) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	minutes := int(ttl.Minutes())
	text := fmt.Sprintf("Your OTP code is %s. It will expire in %d minutes.", code, minutes)
	body := fmt.Sprintf("<p>Your OTP code is <strong>%s</strong>.</p><p>It will expire in %d minutes.</p>", code, minutes)
	return c.SendMail(ctx, to, "Your OTP Code", text, body)
}

// SendWelcome tells a user created by an admin how to sign in.
func (c *Client) SendWelcome(ctx context.Context, to, name, loginURL string) error {
	text := fmt.Sprintf("Hi %s,\n\nAn account has been created for you. Sign in at %s", name, loginURL)
	body := fmt.Sprintf(`<p>Hi %s,</p><p>An account has been created for you. <a href="%s">Sign in</a></p>`,
		html.EscapeString(name), html.EscapeString(loginURL))
	return c.SendMail(ctx, to, "Your account is ready", text, body)
}
