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
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/amtp-protocol/agentmail/internal/logging"
	"github.com/amtp-protocol/agentmail/internal/types"
)

// handleSendMessage handles POST /api/mailbox/send
func (s *Server) handleSendMessage(c *gin.Context) {
	var req types.SendMessageRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST_FORMAT",
			"Invalid request format", map[string]interface{}{
				"parse_error": err.Error(),
			})
		return
	}

	sender := s.config.Message.DefaultSender
	if req.Sender != nil {
		sender = *req.Sender
	}

	ctx := logging.WithAgent(c.Request.Context(), req.Recipient)
	messageID, err := s.service.Send(ctx, req.Recipient, sender, *req.Message, s.now())
	if err != nil {
		s.respondWithMailboxError(c, err)
		return
	}

	s.respondWithSuccess(c, http.StatusOK, types.SendMessageResponse{
		Status:    "Message sent successfully",
		MessageID: messageID,
	})
}

// handleListMessages handles GET /api/mailbox/messages/:agent
func (s *Server) handleListMessages(c *gin.Context) {
	agent := c.Param("agent")

	messages, err := s.service.ListMessages(c.Request.Context(), agent)
	if err != nil {
		s.respondWithMailboxError(c, err)
		return
	}

	status := "Messages retrieved successfully"
	if len(messages) == 0 {
		status = "No messages found"
	}

	s.respondWithSuccess(c, http.StatusOK, types.MessagesResponse{
		Agent:    agent,
		Messages: messages,
		Count:    len(messages),
		Status:   status,
	})
}

// handleDeleteMessage handles DELETE /api/mailbox/messages/:agent/:message_id
func (s *Server) handleDeleteMessage(c *gin.Context) {
	agent := c.Param("agent")
	messageID := c.Param("message_id")

	if err := s.service.DeleteMessage(c.Request.Context(), agent, messageID); err != nil {
		s.respondWithMailboxError(c, err)
		return
	}

	s.respondWithSuccess(c, http.StatusOK, types.StatusResponse{
		Status:    fmt.Sprintf("Message %s deleted successfully", messageID),
		Agent:     agent,
		MessageID: messageID,
	})
}

// handleClearMailbox handles DELETE /api/mailbox/messages/:agent
func (s *Server) handleClearMailbox(c *gin.Context) {
	agent := c.Param("agent")

	if err := s.service.ClearMailbox(c.Request.Context(), agent); err != nil {
		s.respondWithMailboxError(c, err)
		return
	}

	s.respondWithSuccess(c, http.StatusOK, types.StatusResponse{
		Status: fmt.Sprintf("Mailbox for %s cleared successfully", agent),
		Agent:  agent,
	})
}

// handleListAgents handles GET /api/mailbox/agents
func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.service.ListAgents(c.Request.Context())
	if err != nil {
		s.respondWithMailboxError(c, err)
		return
	}

	s.respondWithSuccess(c, http.StatusOK, types.AgentsResponse{
		Agents:      agents,
		TotalAgents: len(agents),
		Status:      "Agents listed successfully",
	})
}

// handleRegisterAgent handles POST /api/mailbox/agents
func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req types.RegisterAgentRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST_FORMAT",
			"Invalid agent registration format", map[string]interface{}{
				"parse_error": err.Error(),
			})
		return
	}

	if err := s.service.RegisterAgent(c.Request.Context(), req.Name); err != nil {
		s.respondWithMailboxError(c, err)
		return
	}

	s.respondWithSuccess(c, http.StatusOK, types.StatusResponse{
		Status: fmt.Sprintf("Agent %s registered successfully", req.Name),
		Agent:  req.Name,
	})
}
