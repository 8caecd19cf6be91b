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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amtp-protocol/agentmail/internal/errors"
	"github.com/amtp-protocol/agentmail/internal/types"
)

// respondWithError sends a standardized error response
func (s *Server) respondWithError(c *gin.Context, statusCode int, code, message string, details map[string]interface{}) {
	requestID := c.GetString("request_id")

	errorResponse := types.ErrorResponse{
		Error: types.ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			Timestamp: time.Now().UTC(),
			RequestID: requestID,
		},
	}

	logger := s.logger.WithContext(c.Request.Context()).WithFields(map[string]interface{}{
		"status_code": statusCode,
		"error_code":  code,
		"method":      c.Request.Method,
		"path":        c.Request.URL.Path,
		"remote_addr": c.ClientIP(),
	})

	if statusCode >= 500 {
		logger.Error(message, nil)
	} else {
		logger.Warn(message)
	}

	if s.metrics != nil {
		s.metrics.RecordError("server", code)
	}

	c.JSON(statusCode, errorResponse)
}

// respondWithMailboxError sends an error returned by the mailbox service.
// Errors without a code are reported as internal errors.
func (s *Server) respondWithMailboxError(c *gin.Context, err error) {
	mailboxErr, ok := errors.AsMailboxError(err)
	if !ok {
		mailboxErr = errors.NewInternalError("Unexpected error", err)
	}
	mailboxErr.RequestID = c.GetString("request_id")

	statusCode := mailboxErr.GetHTTPStatus()
	errorResponse := mailboxErr.ToErrorResponse()

	logger := s.logger.WithContext(c.Request.Context()).WithFields(map[string]interface{}{
		"status_code": statusCode,
		"error_code":  mailboxErr.Code,
		"method":      c.Request.Method,
		"path":        c.Request.URL.Path,
		"remote_addr": c.ClientIP(),
	})

	if statusCode >= 500 {
		logger.Error(mailboxErr.Message, mailboxErr.Cause)
	} else {
		logger.Warn(mailboxErr.Message)
	}

	if s.metrics != nil {
		s.metrics.RecordError("server", string(mailboxErr.Code))
	}

	c.JSON(statusCode, errorResponse)
}

// respondWithSuccess sends a successful response
func (s *Server) respondWithSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

// withRequestMetrics wraps a handler with request metrics and access logging
func (s *Server) withRequestMetrics(handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		if s.metrics != nil {
			s.metrics.IncHTTPRequestsInFlight()
			defer s.metrics.DecHTTPRequestsInFlight()
		}

		handler(c)

		duration := time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(
				c.Request.Method,
				c.FullPath(),
				c.Writer.Status(),
				duration,
			)
		}

		s.logger.WithContext(c.Request.Context()).LogRequest(
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			c.Request.UserAgent(),
			c.Writer.Status(),
			duration,
		)
	}
}
