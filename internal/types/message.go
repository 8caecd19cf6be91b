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

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the wire and on-disk layout of message timestamps
const TimestampLayout = "2006-01-02 15:04:05"

// MessageIDPrefix is prepended to the counter value to form a message ID
const MessageIDPrefix = "msg"

// FormatMessageID returns the message ID for a counter value
func FormatMessageID(n uint64) string {
	return MessageIDPrefix + strconv.FormatUint(n, 10)
}

// ParseMessageID extracts the counter value from a message ID.
// The second result is false for IDs that were not produced by FormatMessageID.
func ParseMessageID(id string) (uint64, bool) {
	if !strings.HasPrefix(id, MessageIDPrefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(id, MessageIDPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Timestamp is a second-precision local time rendered as "YYYY-MM-DD HH:MM:SS"
type Timestamp struct {
	time.Time
}

// NewTimestamp converts t to the precision and zone stored on disk
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Local().Truncate(time.Second)}
}

// String renders the timestamp in TimestampLayout
func (t Timestamp) String() string {
	return t.Format(TimestampLayout)
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// Message is an immutable message record. Its ID is the key it is stored
// under and is not part of the record body.
type Message struct {
	Content   string    `json:"message"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	CreatedAt Timestamp `json:"timestamp"`
}

// NewMessage builds a message record; the caller supplies the creation time
func NewMessage(content, sender, recipient string, createdAt time.Time) Message {
	return Message{
		Content:   content,
		Sender:    sender,
		Recipient: recipient,
		CreatedAt: NewTimestamp(createdAt),
	}
}

// Equal reports whether two records carry the same content and time
func (m Message) Equal(other Message) bool {
	return m.Content == other.Content &&
		m.Sender == other.Sender &&
		m.Recipient == other.Recipient &&
		m.CreatedAt.Equal(other.CreatedAt.Time)
}

// Entry pairs a message ID with its record
type Entry struct {
	ID      string
	Message Message
}

// MessageSet is an insertion-ordered set of messages. It encodes as a JSON
// object whose key order matches the slice order.
type MessageSet []Entry

// MarshalJSON implements json.Marshaler
func (s MessageSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(entry.ID)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(entry.Message)
		if err != nil {
			return nil, fmt.Errorf("failed to encode message %s: %w", entry.ID, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping the document's key order
func (s *MessageSet) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("messages must be a JSON object")
	}

	var entries MessageSet
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected message key %v", tok)
		}
		if id == "" {
			return fmt.Errorf("message ID cannot be empty")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate message ID %s", id)
		}
		seen[id] = struct{}{}

		var msg Message
		if err := dec.Decode(&msg); err != nil {
			return fmt.Errorf("invalid message %s: %w", id, err)
		}
		entries = append(entries, Entry{ID: id, Message: msg})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = entries
	return nil
}

// MailboxFile is the durable representation of one agent's mailbox
type MailboxFile struct {
	MaxKey   uint64     `json:"max_key"`
	Messages MessageSet `json:"messages"`
}

// EncodeMailbox renders a mailbox file
func EncodeMailbox(f *MailboxFile) ([]byte, error) {
	return json.MarshalIndent(f, "", "  ")
}

// DecodeMailbox parses a mailbox file
func DecodeMailbox(data []byte) (*MailboxFile, error) {
	var f MailboxFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// EncodeRegistry renders the registry file as a JSON array of names
func EncodeRegistry(names []string) ([]byte, error) {
	if names == nil {
		names = []string{}
	}
	return json.MarshalIndent(names, "", "  ")
}

// DecodeRegistry parses the registry file
func DecodeRegistry(data []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, err
	}
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("registry contains an empty agent name")
		}
	}
	return names, nil
}
