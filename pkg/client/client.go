/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package client is a Go client for the mailbox HTTP API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amtp-protocol/agentmail/internal/types"
)

// DefaultTimeout bounds each request when no HTTP client is supplied
const DefaultTimeout = 30 * time.Second

// Client talks to one mailbox server
type Client struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	httpClient   *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKeyHeader sets the header the API key is sent in
func WithAPIKeyHeader(header string) Option {
	return func(c *Client) {
		c.apiKeyHeader = header
	}
}

// New creates a client for the server at baseURL
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		apiKeyHeader: "X-API-Key",
		httpClient:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (%d) %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether err is a 409 from the server
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

// IsUnauthorized reports whether err is a 401 from the server
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

func hasStatus(err error, status int) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == status
}

// Send delivers a message and returns its ID. An empty sender lets the
// server apply its default.
func (c *Client) Send(ctx context.Context, recipient, sender, message string) (string, error) {
	req := types.SendMessageRequest{
		Message:   &message,
		Recipient: recipient,
	}
	if sender != "" {
		req.Sender = &sender
	}

	var resp types.SendMessageResponse
	if err := c.do(ctx, http.MethodPost, "/api/mailbox/send", req, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// Messages lists an agent's mailbox
func (c *Client) Messages(ctx context.Context, agent string) (*types.MessagesResponse, error) {
	var resp types.MessagesResponse
	if err := c.do(ctx, http.MethodGet, "/api/mailbox/messages/"+url.PathEscape(agent), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteMessage removes one message from an agent's mailbox
func (c *Client) DeleteMessage(ctx context.Context, agent, messageID string) (*types.StatusResponse, error) {
	path := "/api/mailbox/messages/" + url.PathEscape(agent) + "/" + url.PathEscape(messageID)

	var resp types.StatusResponse
	if err := c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearMailbox removes every message from an agent's mailbox
func (c *Client) ClearMailbox(ctx context.Context, agent string) (*types.StatusResponse, error) {
	var resp types.StatusResponse
	if err := c.do(ctx, http.MethodDelete, "/api/mailbox/messages/"+url.PathEscape(agent), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Agents lists every known agent with its message count and counter
func (c *Client) Agents(ctx context.Context) (*types.AgentsResponse, error) {
	var resp types.AgentsResponse
	if err := c.do(ctx, http.MethodGet, "/api/mailbox/agents", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterAgent creates a new agent with an empty mailbox
func (c *Client) RegisterAgent(ctx context.Context, name string) (*types.StatusResponse, error) {
	var resp types.StatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/mailbox/agents", types.RegisterAgentRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthStatus is the body of GET /health
type HealthStatus struct {
	Status     string            `json:"status"`
	Healthy    bool              `json:"healthy"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// Health queries the liveness endpoint
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var resp HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, body []byte) error {
	var errorResp types.ErrorResponse
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Code != "" {
		return &APIError{
			StatusCode: status,
			Code:       errorResp.Error.Code,
			Message:    errorResp.Error.Message,
			RequestID:  errorResp.Error.RequestID,
		}
	}
	return &APIError{
		StatusCode: status,
		Message:    strings.TrimSpace(string(body)),
	}
}
