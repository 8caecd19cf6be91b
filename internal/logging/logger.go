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

// Package logging writes structured log lines, one JSON object (or one
// key=value text line) per entry.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/amtp-protocol/agentmail/internal/config"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

var levelRanks = map[LogLevel]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
	LevelFatal: 4,
}

// rank returns the ordering of a level; unknown levels rank as info
func (lv LogLevel) rank() int {
	if r, ok := levelRanks[lv]; ok {
		return r
	}
	return levelRanks[LevelInfo]
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Agent      string                 `json:"agent,omitempty"`
	MessageID  string                 `json:"message_id,omitempty"`
	Operation  string                 `json:"operation,omitempty"`
	DurationMS *float64               `json:"duration_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	StatusCode *int                   `json:"status_code,omitempty"`
	Method     string                 `json:"method,omitempty"`
	Path       string                 `json:"path,omitempty"`
	RemoteAddr string                 `json:"remote_addr,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
	Caller     string                 `json:"caller,omitempty"`
}

func (e *LogEntry) setDuration(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	e.DurationMS = &ms
}

// Logger provides structured logging functionality
type Logger struct {
	writer    io.Writer
	minRank   int
	text      bool
	component string
	fields    map[string]interface{}
}

// contextKey is used for context keys to avoid collisions
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	agentKey     contextKey = "agent"
	messageIDKey contextKey = "message_id"
)

// promoted context values become top-level entry attributes
var promoted = []contextKey{requestIDKey, agentKey, messageIDKey}

// NewLogger creates a new logger instance writing to stdout
func NewLogger(cfg config.LoggingConfig) *Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger writing to w
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *Logger {
	return &Logger{
		writer:  w,
		minRank: LogLevel(strings.ToLower(cfg.Level)).rank(),
		text:    strings.EqualFold(cfg.Format, "text"),
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewLoggerWithWriter(config.LoggingConfig{Level: string(LevelFatal)}, io.Discard)
}

func (l *Logger) derive(component string, fields map[string]interface{}) *Logger {
	child := *l
	child.component = component
	child.fields = fields
	return &child
}

// WithComponent creates a new logger with a component name
func (l *Logger) WithComponent(component string) *Logger {
	return l.derive(component, copyFields(l.fields))
}

// WithFields creates a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := copyFields(l.fields)
	for k, v := range fields {
		merged[k] = v
	}
	return l.derive(l.component, merged)
}

// WithField creates a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithContext creates a new logger carrying the request ID, agent and
// message ID stored in ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := copyFields(l.fields)
	for _, key := range promoted {
		if value, ok := ctx.Value(key).(string); ok {
			fields[string(key)] = value
		}
	}
	return l.derive(l.component, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(LevelDebug, message, nil)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, fmt.Sprintf(format, args...), nil)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(LevelInfo, message, nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(LevelWarn, message, nil)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, fmt.Sprintf(format, args...), nil)
}

// Error logs an error message
func (l *Logger) Error(message string, err error) {
	l.log(LevelError, message, err)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(err error, format string, args ...interface{}) {
	l.log(LevelError, fmt.Sprintf(format, args...), err)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, err error) {
	l.log(LevelFatal, message, err)
	os.Exit(1)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(err error, format string, args ...interface{}) {
	l.log(LevelFatal, fmt.Sprintf(format, args...), err)
	os.Exit(1)
}

// LogRequest logs an HTTP request
func (l *Logger) LogRequest(method, path, remoteAddr, userAgent string, statusCode int, duration time.Duration) {
	if !l.enabled(LevelInfo) {
		return
	}

	entry := l.newEntry(LevelInfo, "HTTP request", nil)
	entry.Operation = "http_request"
	entry.Method = method
	entry.Path = path
	entry.RemoteAddr = remoteAddr
	entry.UserAgent = userAgent
	entry.StatusCode = &statusCode
	entry.setDuration(duration)

	l.write(entry)
}

// LogMailboxOperation logs the outcome of one mailbox service operation.
// Successful operations are logged at debug, failures at error.
func (l *Logger) LogMailboxOperation(agent, operation, messageID string, duration time.Duration, err error) {
	level, outcome := LevelDebug, "completed"
	if err != nil {
		level, outcome = LevelError, "failed"
	}
	if !l.enabled(level) {
		return
	}

	entry := l.newEntry(level, "Mailbox "+operation+" "+outcome, err)
	entry.Operation = operation
	if agent != "" {
		entry.Agent = agent
	}
	if messageID != "" {
		entry.MessageID = messageID
	}
	entry.setDuration(duration)

	l.write(entry)
}

// LogDecodeError reports a stored value that could not be decoded and was
// replaced by an empty state
func (l *Logger) LogDecodeError(target, path, quarantined string, err error) {
	if !l.enabled(LevelError) {
		return
	}

	entry := l.newEntry(LevelError, "Discarded unreadable "+target, err)
	entry.Operation = "decode"
	if entry.Fields == nil {
		entry.Fields = make(map[string]interface{})
	}
	entry.Fields["path"] = path
	if quarantined != "" {
		entry.Fields["quarantined"] = quarantined
	}

	l.write(entry)
}

func (l *Logger) enabled(level LogLevel) bool {
	return level.rank() >= l.minRank
}

func (l *Logger) log(level LogLevel, message string, err error) {
	if !l.enabled(level) {
		return
	}
	l.write(l.newEntry(level, message, err))
}

// newEntry builds an entry from the logger's component and fields. The
// caller frame is recorded for error and fatal entries.
func (l *Logger) newEntry(level LogLevel, message string, err error) *LogEntry {
	entry := &LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Component: l.component,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if level.rank() >= levelRanks[LevelError] {
		if pc, file, line, ok := runtime.Caller(3); ok {
			entry.Caller = fmt.Sprintf("%s:%d", file, line)
			if fn := runtime.FuncForPC(pc); fn != nil {
				entry.Caller += " " + fn.Name()
			}
		}
	}

	for k, v := range l.fields {
		s, isString := v.(string)
		switch {
		case k == string(requestIDKey) && isString:
			entry.RequestID = s
		case k == string(agentKey) && isString:
			entry.Agent = s
		case k == string(messageIDKey) && isString:
			entry.MessageID = s
		default:
			if entry.Fields == nil {
				entry.Fields = make(map[string]interface{}, len(l.fields))
			}
			entry.Fields[k] = v
		}
	}

	return entry
}

func (l *Logger) write(entry *LogEntry) {
	if l.text {
		fmt.Fprintln(l.writer, formatText(entry))
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.writer, "[%s] %s %s: %s\n",
			entry.Timestamp.Format(time.RFC3339),
			strings.ToUpper(string(entry.Level)),
			entry.Component,
			entry.Message)
		return
	}
	fmt.Fprintln(l.writer, string(data))
}

// formatText renders an entry as a single human readable line
func formatText(entry *LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s", entry.Timestamp.Format(time.RFC3339), strings.ToUpper(string(entry.Level)))
	if entry.Component != "" {
		fmt.Fprintf(&b, " [%s]", entry.Component)
	}
	b.WriteString(" ")
	b.WriteString(entry.Message)

	quoted := [][2]string{
		{"request_id", entry.RequestID},
		{"agent", entry.Agent},
		{"message_id", entry.MessageID},
		{"operation", entry.Operation},
		{"method", entry.Method},
		{"path", entry.Path},
		{"error", entry.Error},
	}
	for _, kv := range quoted {
		if kv[1] != "" {
			fmt.Fprintf(&b, " %s=%q", kv[0], kv[1])
		}
	}
	if entry.StatusCode != nil {
		fmt.Fprintf(&b, " status=%d", *entry.StatusCode)
	}
	if entry.DurationMS != nil {
		fmt.Fprintf(&b, " duration_ms=%.3f", *entry.DurationMS)
	}

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
	}

	return b.String()
}

// copyFields returns a non-nil copy of fields
func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithAgent adds an agent name to the context
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, agentKey, agent)
}

// WithMessageID adds a message ID to the context
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, messageIDKey, messageID)
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey).(string)
	return requestID
}
