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

package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/amtp-protocol/agentmail/internal/config"
	"github.com/amtp-protocol/agentmail/internal/errors"
	"github.com/amtp-protocol/agentmail/internal/logging"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

// Logger creates an access log middleware writing to gin's default writer
func Logger(cfg config.LoggingConfig) gin.HandlerFunc {
	return LoggerWithWriter(cfg, gin.DefaultWriter)
}

// LoggerWithWriter creates an access log middleware writing to w. The json
// format emits one object per request; anything else emits a text line.
func LoggerWithWriter(cfg config.LoggingConfig, w io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    w,
		Formatter: accessLogFormatter(cfg.Format),
	})
}

// accessLogEntry is one line of the json access log
type accessLogEntry struct {
	Time      string `json:"time"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func accessLogFormatter(format string) gin.LogFormatter {
	if format != "json" {
		return func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[%s] %s %s %d %s %s %s\n",
				param.TimeStamp.Format("2006/01/02 - 15:04:05"),
				param.Method,
				param.Path,
				param.StatusCode,
				param.Latency,
				param.ClientIP,
				param.Request.Header.Get(RequestIDHeader),
			)
		}
	}

	return func(param gin.LogFormatterParams) string {
		data, err := json.Marshal(accessLogEntry{
			Time:      param.TimeStamp.UTC().Format(time.RFC3339),
			Method:    param.Method,
			Path:      param.Path,
			Status:    param.StatusCode,
			LatencyMS: param.Latency.Milliseconds(),
			IP:        param.ClientIP,
			UserAgent: param.Request.UserAgent(),
			RequestID: param.Request.Header.Get(RequestIDHeader),
			Error:     param.ErrorMessage,
		})
		if err != nil {
			return ""
		}
		return string(data) + "\n"
	}
}

// RequestID adds a unique request ID to each request and its context
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = newRequestID()
			c.Request.Header.Set(RequestIDHeader, requestID)
		}

		c.Header(RequestIDHeader, requestID)
		c.Set("request_id", requestID)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// newRequestID returns a time-ordered UUIDv7
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// CORS adds CORS headers
func CORS(apiKeyHeader string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader+", "+apiKeyHeader)
		c.Header("Access-Control-Expose-Headers", RequestIDHeader)
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SecurityHeaders adds security-related headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// HSTS header for HTTPS
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// RequestSizeLimit rejects bodies larger than maxSize bytes. A declared
// Content-Length over the limit is refused up front; other bodies are cut
// off while being read.
func RequestSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			err := errors.Newf(errors.ErrPayloadTooLarge, "Request body too large. Maximum size is %d bytes", maxSize).
				WithDetails(map[string]interface{}{"max_size": maxSize}).
				WithRequestID(c.GetString("request_id"))
			c.AbortWithStatusJSON(err.GetHTTPStatus(), err.ToErrorResponse())
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// APIKeyAuth rejects requests whose API key header does not match the
// configured shared secret
func APIKeyAuth(cfg config.AuthConfig) gin.HandlerFunc {
	header := cfg.APIKeyHeader
	if header == "" {
		header = config.DefaultAPIKeyHeader
	}
	expected := []byte(cfg.APIKey)

	return func(c *gin.Context) {
		if !cfg.RequireAuth {
			c.Next()
			return
		}

		provided := c.GetHeader(header)
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			err := errors.New(errors.ErrUnauthorized, "Invalid API key").
				WithDetails(map[string]interface{}{"required_header": header}).
				WithRequestID(c.GetString("request_id"))
			c.AbortWithStatusJSON(err.GetHTTPStatus(), err.ToErrorResponse())
			return
		}

		c.Set("authenticated", true)
		c.Next()
	}
}
