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

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amtp-protocol/agentmail/internal/config"
	"github.com/amtp-protocol/agentmail/internal/server"
	"github.com/amtp-protocol/agentmail/internal/storage"
)

const testAPIKey = "client-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Address:      ":0",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  5 * time.Second,
		},
		Auth: config.AuthConfig{
			RequireAuth:  true,
			APIKey:       testAPIKey,
			APIKeyHeader: config.DefaultAPIKeyHeader,
		},
		Storage: config.StorageConfig{Type: storage.TypeMemory},
		Message: config.MessageConfig{
			MaxSize:       1024 * 1024,
			DefaultSender: config.DefaultSender,
		},
		Logging: config.LoggingConfig{Level: "fatal", Format: "json"},
	}

	srv, err := server.New(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.GetRouter())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return ts
}

func TestClientLifecycle(t *testing.T) {
	ts := newTestServer(t)
	c := New(ts.URL, testAPIKey)
	ctx := context.Background()

	id, err := c.Send(ctx, "recipient1", "tester", "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg1", id)

	id, err = c.Send(ctx, "recipient1", "", "second")
	require.NoError(t, err)
	assert.Equal(t, "msg2", id)

	msgs, err := c.Messages(ctx, "recipient1")
	require.NoError(t, err)
	assert.Equal(t, 2, msgs.Count)
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, "msg1", msgs.Messages[0].ID)
	assert.Equal(t, "tester", msgs.Messages[0].Message.Sender)
	assert.Equal(t, config.DefaultSender, msgs.Messages[1].Message.Sender)

	_, err = c.DeleteMessage(ctx, "recipient1", "msg1")
	require.NoError(t, err)

	agents, err := c.Agents(ctx)
	require.NoError(t, err)
	require.Contains(t, agents.Agents, "recipient1")
	assert.Equal(t, 1, agents.Agents["recipient1"].MessageCount)
	assert.Equal(t, uint64(2), agents.Agents["recipient1"].MaxKey)

	_, err = c.ClearMailbox(ctx, "recipient1")
	require.NoError(t, err)

	id, err = c.Send(ctx, "recipient1", "tester", "after clear")
	require.NoError(t, err)
	assert.Equal(t, "msg3", id)
}

func TestClientRegisterAgent(t *testing.T) {
	ts := newTestServer(t)
	c := New(ts.URL, testAPIKey)
	ctx := context.Background()

	resp, err := c.RegisterAgent(ctx, "Research Bot")
	require.NoError(t, err)
	assert.Equal(t, "Research Bot", resp.Agent)

	_, err = c.RegisterAgent(ctx, "Research Bot")
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	msgs, err := c.Messages(ctx, "Research Bot")
	require.NoError(t, err)
	assert.Equal(t, 0, msgs.Count)
}

func TestClientErrors(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := New(ts.URL, "wrong").Agents(ctx)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	c := New(ts.URL, testAPIKey)
	_, err = c.DeleteMessage(ctx, "nobody", "msg1")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "AGENT_NOT_FOUND", apiErr.Code)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestClientHealth(t *testing.T) {
	ts := newTestServer(t)

	health, err := New(ts.URL, "").Health(context.Background())
	require.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Equal(t, server.Version, health.Version)
}

func TestDecodeAPIErrorPlainBody(t *testing.T) {
	err := decodeAPIError(http.StatusBadGateway, []byte("upstream down\n"))

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Empty(t, apiErr.Code)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.Equal(t, "API error (502): upstream down", apiErr.Error())
}

func TestTrailingSlashTrimmed(t *testing.T) {
	c := New("http://localhost:8000/", "key", WithAPIKeyHeader("X-Other"))
	assert.Equal(t, "http://localhost:8000", c.baseURL)
	assert.Equal(t, "X-Other", c.apiKeyHeader)
}
