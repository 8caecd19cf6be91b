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

package storage

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/amtp-protocol/agentmail/internal/types"
)

// AgentRecord is one registry entry
type AgentRecord struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	Name      string    `gorm:"size:255;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// MailboxRecord is one agent's mailbox. Messages holds the same ordered JSON
// object as the mailbox file; the plain json column type keeps key order,
// which jsonb would not.
type MailboxRecord struct {
	Agent     string         `gorm:"primaryKey;size:255" json:"agent"`
	MaxKey    uint64         `gorm:"not null" json:"max_key"`
	Messages  datatypes.JSON `gorm:"type:json;not null" json:"messages"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName specify table name
func (AgentRecord) TableName() string {
	return "agents"
}

func (MailboxRecord) TableName() string {
	return "mailboxes"
}

// newMailboxRecord converts a mailbox to its row
func newMailboxRecord(agent string, mailbox *types.MailboxFile) (*MailboxRecord, error) {
	messages, err := json.Marshal(mailbox.Messages)
	if err != nil {
		return nil, err
	}
	return &MailboxRecord{
		Agent:    agent,
		MaxKey:   mailbox.MaxKey,
		Messages: datatypes.JSON(messages),
	}, nil
}

// MailboxFile converts the row back to a mailbox
func (r *MailboxRecord) MailboxFile() (*types.MailboxFile, error) {
	var messages types.MessageSet
	if len(r.Messages) > 0 {
		if err := json.Unmarshal(r.Messages, &messages); err != nil {
			return nil, err
		}
	}
	return &types.MailboxFile{MaxKey: r.MaxKey, Messages: messages}, nil
}
