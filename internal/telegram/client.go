// Package telegram is a minimal Bot API client: the webhook update shapes and
// the handful of methods the broker calls.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is returned when the platform answers with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (%d): %s", e.Method, e.Code, e.Description)
}

// Client calls the Bot API over HTTP. The token is embedded in the URL path.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient builds a client. timeout bounds every call.
func NewClient(apiBase, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{MaxIdleConnsPerHost: 10},
		},
		baseURL: strings.TrimRight(apiBase, "/"),
		token:   token,
	}
}

// Send posts payload as JSON to the given method and returns the decoded
// envelope. An ok=false answer is reported as *APIError.
func (c *Client) Send(ctx context.Context, method string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", method, err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, redact(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !out.OK {
		code := out.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &out, &APIError{Method: method, Code: code, Description: out.Description}
	}
	return &out, nil
}

// GetChatMember reports the membership of userID in chatID (numeric id or
// @username).
func (c *Client) GetChatMember(ctx context.Context, chatID string, userID int64) (*ChatMember, error) {
	resp, err := c.Send(ctx, "getChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	})
	if err != nil {
		return nil, err
	}
	var member ChatMember
	if err := json.Unmarshal(resp.Result, &member); err != nil {
		return nil, fmt.Errorf("decode chat member: %w", err)
	}
	if member.Status == "" {
		return nil, errors.New("chat member status missing")
	}
	return &member, nil
}

// SetWebhook points the platform at the given public URL.
func (c *Client) SetWebhook(ctx context.Context, webhookURL string) error {
	if _, err := url.ParseRequestURI(webhookURL); err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	_, err := c.Send(ctx, "setWebhook", map[string]any{
		"url":             webhookURL,
		"allowed_updates": []string{"message"},
	})
	return err
}

// DeleteWebhook removes the registered webhook.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := c.Send(ctx, "deleteWebhook", map[string]any{})
	return err
}

// redact drops the request URL, which carries the bot token.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
