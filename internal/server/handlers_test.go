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

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/amtp-protocol/agentmail/internal/storage"
	"github.com/amtp-protocol/agentmail/internal/types"
)

func sendMessage(t *testing.T, server *Server, body interface{}) types.SendMessageResponse {
	t.Helper()

	w := doRequest(t, server, "POST", "/api/mailbox/send", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Send failed with status %d: %s", w.Code, w.Body.String())
	}

	var resp types.SendMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode send response: %v", err)
	}
	return resp
}

func listMessages(t *testing.T, server *Server, agent string) (types.MessagesResponse, string) {
	t.Helper()

	w := doRequest(t, server, "GET", "/api/mailbox/messages/"+agent, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("List failed with status %d: %s", w.Code, w.Body.String())
	}

	var resp types.MessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode list response: %v", err)
	}
	return resp, w.Body.String()
}

func TestMailboxLifecycle(t *testing.T) {
	server := createTestServer(t)

	for i, want := range []string{"msg1", "msg2", "msg3"} {
		resp := sendMessage(t, server, map[string]string{
			"message":   []string{"first", "second", "third"}[i],
			"sender":    "sender1",
			"recipient": "recipient1",
		})
		if resp.Status != "Message sent successfully" {
			t.Errorf("Unexpected status %q", resp.Status)
		}
		if resp.MessageID != want {
			t.Errorf("Expected %s, got %s", want, resp.MessageID)
		}
	}

	list, raw := listMessages(t, server, "recipient1")
	if list.Count != 3 || list.Status != "Messages retrieved successfully" || list.Agent != "recipient1" {
		t.Errorf("Unexpected listing: %+v", list)
	}
	if !(strings.Index(raw, `"msg1"`) < strings.Index(raw, `"msg2"`) && strings.Index(raw, `"msg2"`) < strings.Index(raw, `"msg3"`)) {
		t.Errorf("Messages not listed in insertion order: %s", raw)
	}
	if !strings.Contains(raw, `"timestamp":"2025-06-01 12:30:00"`) {
		t.Errorf("Expected formatted timestamp in %s", raw)
	}
	record := list.Messages[0].Message
	if record.Content != "first" || record.Sender != "sender1" || record.Recipient != "recipient1" {
		t.Errorf("Unexpected first record: %+v", record)
	}

	w := doRequest(t, server, "DELETE", "/api/mailbox/messages/recipient1/msg1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Delete failed with status %d", w.Code)
	}
	var status types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode delete response: %v", err)
	}
	if status.Status != "Message msg1 deleted successfully" {
		t.Errorf("Unexpected delete status %q", status.Status)
	}

	list, _ = listMessages(t, server, "recipient1")
	if list.Count != 2 || list.Messages[0].ID != "msg2" || list.Messages[1].ID != "msg3" {
		t.Errorf("Expected msg2 and msg3 after delete, got %+v", list.Messages)
	}

	w = doRequest(t, server, "DELETE", "/api/mailbox/messages/recipient1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Clear failed with status %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode clear response: %v", err)
	}
	if status.Status != "Mailbox for recipient1 cleared successfully" {
		t.Errorf("Unexpected clear status %q", status.Status)
	}

	list, raw = listMessages(t, server, "recipient1")
	if list.Count != 0 || list.Status != "No messages found" {
		t.Errorf("Expected empty listing, got %+v", list)
	}
	if !strings.Contains(raw, `"messages":{}`) {
		t.Errorf("Expected empty messages object, got %s", raw)
	}

	resp := sendMessage(t, server, map[string]string{
		"message":   "after clear",
		"sender":    "sender1",
		"recipient": "recipient1",
	})
	if resp.MessageID != "msg4" {
		t.Errorf("Expected msg4 after clear, got %s", resp.MessageID)
	}
}

func TestSendDefaultsSender(t *testing.T) {
	server := createTestServer(t)

	sendMessage(t, server, map[string]string{"message": "hi", "recipient": "bob"})
	sendMessage(t, server, map[string]string{"message": "hi", "recipient": "bob", "sender": "alice"})

	list, _ := listMessages(t, server, "bob")
	if list.Count != 2 {
		t.Fatalf("Expected 2 messages, got %d", list.Count)
	}
	if list.Messages[0].Message.Sender != "Assistant" {
		t.Errorf("Expected default sender Assistant, got %s", list.Messages[0].Message.Sender)
	}
	if list.Messages[1].Message.Sender != "alice" {
		t.Errorf("Expected sender alice, got %s", list.Messages[1].Message.Sender)
	}
}

func TestSendRejectsMalformedRequests(t *testing.T) {
	server := createTestServer(t)

	tests := []struct {
		name         string
		body         interface{}
		expectedCode string
	}{
		{"missing recipient", map[string]string{"message": "hi"}, "INVALID_REQUEST_FORMAT"},
		{"empty recipient", map[string]string{"message": "hi", "recipient": ""}, "INVALID_REQUEST_FORMAT"},
		{"missing message", map[string]string{"recipient": "bob"}, "INVALID_REQUEST_FORMAT"},
		{"invalid json", `{"message": "hi", `, "INVALID_REQUEST_FORMAT"},
		{"unsafe recipient", map[string]string{"message": "hi", "recipient": "../etc"}, "INVALID_AGENT_NAME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, server, "POST", "/api/mailbox/send", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d: %s", w.Code, w.Body.String())
			}
			if resp := decodeError(t, w); resp.Error.Code != tt.expectedCode {
				t.Errorf("Expected code %s, got %s", tt.expectedCode, resp.Error.Code)
			}
		})
	}

	// Nothing was stored for the rejected requests
	w := doRequest(t, server, "GET", "/api/mailbox/agents", nil)
	var agents types.AgentsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &agents); err != nil {
		t.Fatalf("Failed to decode agents response: %v", err)
	}
	if agents.TotalAgents != 0 {
		t.Errorf("Expected no agents, got %+v", agents.Agents)
	}
}

func TestSendEmptyMessageAllowed(t *testing.T) {
	server := createTestServer(t)

	resp := sendMessage(t, server, map[string]string{"message": "", "recipient": "bob"})
	if resp.MessageID != "msg1" {
		t.Errorf("Expected msg1, got %s", resp.MessageID)
	}
}

func TestDeleteNotFound(t *testing.T) {
	server := createTestServer(t)

	w := doRequest(t, server, "DELETE", "/api/mailbox/messages/ghost/msg1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Error.Code != "AGENT_NOT_FOUND" {
		t.Errorf("Expected AGENT_NOT_FOUND, got %s", resp.Error.Code)
	}

	sendMessage(t, server, map[string]string{"message": "hi", "recipient": "real"})

	for _, id := range []string{"msg2", "max_key"} {
		w = doRequest(t, server, "DELETE", "/api/mailbox/messages/real/"+id, nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("Expected status 404 for %s, got %d", id, w.Code)
		}
		if resp := decodeError(t, w); resp.Error.Code != "MESSAGE_NOT_FOUND" {
			t.Errorf("Expected MESSAGE_NOT_FOUND for %s, got %s", id, resp.Error.Code)
		}
	}
}

func TestListUnknownAgent(t *testing.T) {
	server := createTestServer(t)

	list, _ := listMessages(t, server, "nobody")
	if list.Count != 0 || list.Status != "No messages found" || list.Agent != "nobody" {
		t.Errorf("Unexpected listing for unknown agent: %+v", list)
	}
}

func TestClearUnknownAgent(t *testing.T) {
	server := createTestServer(t)

	w := doRequest(t, server, "DELETE", "/api/mailbox/messages/newbie", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListAgents(t *testing.T) {
	server := createTestServer(t)

	sendMessage(t, server, map[string]string{"message": "one", "recipient": "alpha"})
	sendMessage(t, server, map[string]string{"message": "two", "recipient": "alpha"})
	doRequest(t, server, "DELETE", "/api/mailbox/messages/alpha/msg1", nil)
	doRequest(t, server, "POST", "/api/mailbox/agents", map[string]string{"name": "beta"})

	w := doRequest(t, server, "GET", "/api/mailbox/agents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp types.AgentsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.TotalAgents != 2 || resp.Status != "Agents listed successfully" {
		t.Errorf("Unexpected agents response: %+v", resp)
	}
	if resp.Agents["alpha"] != (types.AgentSummary{MessageCount: 1, MaxKey: 2}) {
		t.Errorf("Unexpected alpha summary: %+v", resp.Agents["alpha"])
	}
	if resp.Agents["beta"] != (types.AgentSummary{}) {
		t.Errorf("Unexpected beta summary: %+v", resp.Agents["beta"])
	}
}

func TestRegisterAgent(t *testing.T) {
	server := createTestServer(t)

	w := doRequest(t, server, "POST", "/api/mailbox/agents", map[string]string{"name": "X"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var status types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status.Agent != "X" || status.Status != "Agent X registered successfully" {
		t.Errorf("Unexpected register response: %+v", status)
	}

	w = doRequest(t, server, "POST", "/api/mailbox/agents", map[string]string{"name": "X"})
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Error.Code != "AGENT_CONFLICT" {
		t.Errorf("Expected AGENT_CONFLICT, got %s", resp.Error.Code)
	}

	w = doRequest(t, server, "POST", "/api/mailbox/agents", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for missing name, got %d", w.Code)
	}
}

func TestPersistenceFailure(t *testing.T) {
	store := &faultyStorage{Storage: storage.NewMemoryStorage()}
	server := createFaultyServer(t, store)

	sendMessage(t, server, map[string]string{"message": "kept", "recipient": "r"})

	store.mu.Lock()
	store.failWrites = true
	store.mu.Unlock()

	w := doRequest(t, server, "POST", "/api/mailbox/send", map[string]string{"message": "lost", "recipient": "r"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "message_id") {
		t.Errorf("Failed send must not return a message ID: %s", w.Body.String())
	}
	if resp := decodeError(t, w); resp.Error.Code != "PERSISTENCE_FAILED" {
		t.Errorf("Expected PERSISTENCE_FAILED, got %s", resp.Error.Code)
	}

	w = doRequest(t, server, "DELETE", "/api/mailbox/messages/r", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected failed clear to return 500, got %d", w.Code)
	}

	store.mu.Lock()
	store.failWrites = false
	store.mu.Unlock()

	list, _ := listMessages(t, server, "r")
	if list.Count != 1 || list.Messages[0].Message.Content != "kept" {
		t.Errorf("Expected only the persisted message, got %+v", list.Messages)
	}
}
