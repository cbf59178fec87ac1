// Package client is a small HTTP client for the trial API, used by the
// heartbeat poller and the trialctl tool.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bianutri/backend/internal/domain"
)

// Client calls the trial API on behalf of one bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. httpClient may be nil.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// TrialConfig fetches the limit and heartbeat interval the server enforces.
func (c *Client) TrialConfig(ctx context.Context) (*domain.TrialConfig, error) {
	var cfg domain.TrialConfig
	if err := c.do(ctx, http.MethodGet, "/api/trial/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Profile fetches the caller's profile.
func (c *Client) Profile(ctx context.Context) (*domain.ProfileResponse, error) {
	var p domain.ProfileResponse
	if err := c.do(ctx, http.MethodGet, "/api/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetPhone registers the caller's phone.
func (c *Client) SetPhone(ctx context.Context, phone string) (*domain.ProfileResponse, error) {
	var p domain.ProfileResponse
	if err := c.do(ctx, http.MethodPut, "/api/profile/phone", domain.SetPhoneRequest{Phone: phone}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Access fetches the resolved access status.
func (c *Client) Access(ctx context.Context) (*domain.AccessResponse, error) {
	var a domain.AccessResponse
	if err := c.do(ctx, http.MethodGet, "/api/access", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Start begins the caller's trial.
func (c *Client) Start(ctx context.Context, userID string) (*domain.StartTrialResponse, error) {
	var resp domain.StartTrialResponse
	if err := c.do(ctx, http.MethodPost, "/api/trial/start", domain.StartTrialRequest{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Increment reports elapsed seconds and returns the server's counters.
func (c *Client) Increment(ctx context.Context, userID string, seconds int) (*domain.IncrementTrialResponse, error) {
	req := domain.IncrementTrialRequest{UserID: userID, Seconds: seconds}
	var resp domain.IncrementTrialResponse
	if err := c.do(ctx, http.MethodPost, "/api/trial/increment", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error body back into an AppError so callers can match
// codes with domain.IsCode.
func decodeError(status int, raw []byte) error {
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return &domain.AppError{Code: status, Message: http.StatusText(status)}
	}

	appErr := &domain.AppError{Code: status, Message: http.StatusText(status)}
	if msg, ok := body["error"].(string); ok && msg != "" {
		appErr.Message = msg
	}
	delete(body, "error")
	if len(body) > 0 {
		appErr.Details = body
	}
	return appErr
}
