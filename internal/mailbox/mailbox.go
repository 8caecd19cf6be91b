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

// Package mailbox implements the in-memory state of one agent's mailbox:
// a monotonic ID counter and an insertion-ordered set of message records.
//
// A Mailbox is not safe for concurrent use. The service layer serializes
// access per agent.
package mailbox

import (
	"github.com/amtp-protocol/agentmail/internal/types"
)

// Mailbox holds one agent's messages
type Mailbox struct {
	owner    string
	nextID   uint64
	order    []string
	messages map[string]types.Message
}

// New creates an empty mailbox with a zero counter
func New(owner string) *Mailbox {
	return &Mailbox{
		owner:    owner,
		messages: make(map[string]types.Message),
	}
}

// FromFile rebuilds a mailbox from its durable form. The counter is raised
// to the largest numeric ID present so a hand-edited file cannot cause an
// ID to be handed out twice.
func FromFile(owner string, f *types.MailboxFile) *Mailbox {
	m := New(owner)
	if f == nil {
		return m
	}

	m.nextID = f.MaxKey
	for _, entry := range f.Messages {
		if _, exists := m.messages[entry.ID]; exists {
			continue
		}
		m.order = append(m.order, entry.ID)
		m.messages[entry.ID] = entry.Message
		if n, ok := types.ParseMessageID(entry.ID); ok && n > m.nextID {
			m.nextID = n
		}
	}
	return m
}

// File returns the durable form of the mailbox
func (m *Mailbox) File() *types.MailboxFile {
	return &types.MailboxFile{
		MaxKey:   m.nextID,
		Messages: m.List(),
	}
}

// Owner returns the agent name the mailbox belongs to
func (m *Mailbox) Owner() string {
	return m.owner
}

// NextID returns the counter value of the most recently assigned ID
func (m *Mailbox) NextID() uint64 {
	return m.nextID
}

// Len returns the number of stored messages
func (m *Mailbox) Len() int {
	return len(m.order)
}

// Append stores msg under a freshly assigned ID and returns that ID
func (m *Mailbox) Append(msg types.Message) string {
	m.nextID++
	id := types.FormatMessageID(m.nextID)
	m.order = append(m.order, id)
	m.messages[id] = msg
	return id
}

// List returns a snapshot of all entries in insertion order
func (m *Mailbox) List() types.MessageSet {
	entries := make(types.MessageSet, 0, len(m.order))
	for _, id := range m.order {
		entries = append(entries, types.Entry{ID: id, Message: m.messages[id]})
	}
	return entries
}

// Get returns the message stored under id
func (m *Mailbox) Get(id string) (types.Message, bool) {
	msg, ok := m.messages[id]
	return msg, ok
}

// Delete removes id and reports whether it was present. The counter is
// left untouched.
func (m *Mailbox) Delete(id string) bool {
	if _, ok := m.messages[id]; !ok {
		return false
	}
	delete(m.messages, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every message and keeps the counter
func (m *Mailbox) Clear() {
	m.order = nil
	m.messages = make(map[string]types.Message)
}

// Clone returns an independent copy of the mailbox
func (m *Mailbox) Clone() *Mailbox {
	c := &Mailbox{
		owner:    m.owner,
		nextID:   m.nextID,
		order:    make([]string, len(m.order)),
		messages: make(map[string]types.Message, len(m.messages)),
	}
	copy(c.order, m.order)
	for id, msg := range m.messages {
		c.messages[id] = msg
	}
	return c
}
