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

package types

import "time"

// SendMessageRequest represents the API request to send a message
type SendMessageRequest struct {
	Message   *string `json:"message" binding:"required"`
	Sender    *string `json:"sender,omitempty"`
	Recipient string  `json:"recipient" binding:"required"`
}

// SendMessageResponse represents the API response for sending a message
type SendMessageResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
}

// MessagesResponse lists the contents of one mailbox
type MessagesResponse struct {
	Agent    string     `json:"agent"`
	Messages MessageSet `json:"messages"`
	Count    int        `json:"count"`
	Status   string     `json:"status"`
}

// AgentSummary describes one mailbox in the agent listing
type AgentSummary struct {
	MessageCount int    `json:"message_count"`
	MaxKey       uint64 `json:"max_key"`
}

// AgentsResponse lists all known agents
type AgentsResponse struct {
	Agents      map[string]AgentSummary `json:"agents"`
	TotalAgents int                     `json:"total_agents"`
	Status      string                  `json:"status"`
}

// RegisterAgentRequest represents the API request to register an agent
type RegisterAgentRequest struct {
	Name string `json:"name" binding:"required"`
}

// StatusResponse is returned by operations that carry no payload
type StatusResponse struct {
	Status    string `json:"status"`
	Agent     string `json:"agent,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail provides detailed error information
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
}
