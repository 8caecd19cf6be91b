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

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amtp-protocol/agentmail/internal/types"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	// Request validation errors
	ErrInvalidRequestFormat ErrorCode = "INVALID_REQUEST_FORMAT"
	ErrValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrInvalidAgentName     ErrorCode = "INVALID_AGENT_NAME"
	ErrPayloadTooLarge      ErrorCode = "PAYLOAD_TOO_LARGE"

	// Authentication errors
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"

	// Resource errors
	ErrAgentNotFound   ErrorCode = "AGENT_NOT_FOUND"
	ErrMessageNotFound ErrorCode = "MESSAGE_NOT_FOUND"
	ErrAgentConflict   ErrorCode = "AGENT_CONFLICT"

	// Storage errors
	ErrPersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	ErrDecodeFailed      ErrorCode = "DECODE_FAILED"

	// System errors
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// MailboxError represents a structured mailbox error
type MailboxError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Cause     error                  `json:"-"` // Internal cause, not exposed in JSON
}

// Error implements the error interface
func (e *MailboxError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *MailboxError) Unwrap() error {
	return e.Cause
}

// ToErrorResponse converts MailboxError to types.ErrorResponse
func (e *MailboxError) ToErrorResponse() types.ErrorResponse {
	return types.ErrorResponse{
		Error: types.ErrorDetail{
			Code:      string(e.Code),
			Message:   e.Message,
			Details:   e.Details,
			Timestamp: e.Timestamp,
			RequestID: e.RequestID,
		},
	}
}

// New creates a new MailboxError
func New(code ErrorCode, message string) *MailboxError {
	return &MailboxError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Newf creates a new MailboxError with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *MailboxError {
	return &MailboxError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now().UTC(),
	}
}

// Wrap creates a new MailboxError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *MailboxError {
	return &MailboxError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	}
}

// Wrapf creates a new MailboxError wrapping an existing error with formatted message
func Wrapf(code ErrorCode, cause error, format string, args ...interface{}) *MailboxError {
	return &MailboxError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	}
}

// WithDetails adds details to a MailboxError
func (e *MailboxError) WithDetails(details map[string]interface{}) *MailboxError {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to a MailboxError
func (e *MailboxError) WithRequestID(requestID string) *MailboxError {
	e.RequestID = requestID
	return e
}

// GetHTTPStatus returns the appropriate HTTP status code for the error
func (e *MailboxError) GetHTTPStatus() int {
	switch e.Code {
	case ErrInvalidRequestFormat, ErrValidationFailed, ErrInvalidAgentName:
		return http.StatusBadRequest

	case ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge

	case ErrUnauthorized:
		return http.StatusUnauthorized

	case ErrAgentNotFound, ErrMessageNotFound:
		return http.StatusNotFound

	case ErrAgentConflict:
		return http.StatusConflict

	case ErrPersistenceFailed, ErrDecodeFailed, ErrInternalError:
		return http.StatusInternalServerError

	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors for convenience

// NewValidationError creates a validation error
func NewValidationError(message string, details map[string]interface{}) *MailboxError {
	return New(ErrValidationFailed, message).WithDetails(details)
}

// NewInvalidAgentNameError creates an invalid agent name error
func NewInvalidAgentNameError(name string, cause error) *MailboxError {
	return Wrapf(ErrInvalidAgentName, cause, "invalid agent name %q", name)
}

// NewAgentNotFoundError creates an agent not found error
func NewAgentNotFoundError(agent string) *MailboxError {
	return Newf(ErrAgentNotFound, "agent mailbox not found: %s", agent).
		WithDetails(map[string]interface{}{"agent": agent})
}

// NewMessageNotFoundError creates a message not found error
func NewMessageNotFoundError(agent, messageID string) *MailboxError {
	return Newf(ErrMessageNotFound, "message %s not found in mailbox %s", messageID, agent).
		WithDetails(map[string]interface{}{"agent": agent, "message_id": messageID})
}

// NewConflictError creates an agent registration conflict error
func NewConflictError(agent, reason string) *MailboxError {
	return Newf(ErrAgentConflict, "agent %s already exists", agent).
		WithDetails(map[string]interface{}{"agent": agent, "reason": reason})
}

// NewPersistenceError creates a persistence error
func NewPersistenceError(message string, cause error) *MailboxError {
	return Wrap(ErrPersistenceFailed, message, cause)
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *MailboxError {
	return Wrap(ErrInternalError, message, cause)
}

// AsMailboxError finds the first MailboxError in err's chain
func AsMailboxError(err error) (*MailboxError, bool) {
	var mailboxErr *MailboxError
	if stderrors.As(err, &mailboxErr) {
		return mailboxErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given error code
func HasCode(err error, code ErrorCode) bool {
	mailboxErr, ok := AsMailboxError(err)
	return ok && mailboxErr.Code == code
}

// IsNotFound reports whether err is an agent or message not found error
func IsNotFound(err error) bool {
	return HasCode(err, ErrAgentNotFound) || HasCode(err, ErrMessageNotFound)
}

// IsConflict reports whether err is a registration conflict
func IsConflict(err error) bool {
	return HasCode(err, ErrAgentConflict)
}

// IsPersistence reports whether err is a failed durable write
func IsPersistence(err error) bool {
	return HasCode(err, ErrPersistenceFailed)
}
