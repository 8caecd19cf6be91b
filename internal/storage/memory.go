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
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/amtp-protocol/agentmail/internal/types"
)

// MemoryStorage implements Storage using in-memory maps. Values are kept in
// their encoded form so every load returns an independent copy, exactly as
// the file backend does.
type MemoryStorage struct {
	registry    []byte
	mailboxes   map[string][]byte
	registryMux sync.RWMutex
	mailboxMux  sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		mailboxes: make(map[string][]byte),
	}
}

// LoadRegistry returns the stored registry
func (ms *MemoryStorage) LoadRegistry(ctx context.Context) ([]string, error) {
	ms.registryMux.RLock()
	defer ms.registryMux.RUnlock()

	if ms.registry == nil {
		return nil, nil
	}
	names, err := types.DecodeRegistry(ms.registry)
	if err != nil {
		return nil, &DecodeError{Path: "memory:registry", Err: err}
	}
	return names, nil
}

// SaveRegistry replaces the stored registry
func (ms *MemoryStorage) SaveRegistry(ctx context.Context, names []string) error {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	data, err := types.EncodeRegistry(sorted)
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	ms.registryMux.Lock()
	ms.registry = data
	ms.registryMux.Unlock()
	return nil
}

// LoadMailbox returns a copy of the stored mailbox, or nil when absent
func (ms *MemoryStorage) LoadMailbox(ctx context.Context, agent string) (*types.MailboxFile, error) {
	if err := validateAgent(agent); err != nil {
		return nil, err
	}

	ms.mailboxMux.RLock()
	data, exists := ms.mailboxes[agent]
	ms.mailboxMux.RUnlock()
	if !exists {
		return nil, nil
	}

	mailbox, err := types.DecodeMailbox(data)
	if err != nil {
		return nil, &DecodeError{Path: "memory:mailboxes/" + agent, Err: err}
	}
	return mailbox, nil
}

// SaveMailbox replaces the stored mailbox
func (ms *MemoryStorage) SaveMailbox(ctx context.Context, agent string, mailbox *types.MailboxFile) error {
	if err := validateAgent(agent); err != nil {
		return err
	}
	if mailbox == nil {
		mailbox = &types.MailboxFile{}
	}

	data, err := types.EncodeMailbox(mailbox)
	if err != nil {
		return fmt.Errorf("failed to encode mailbox %s: %w", agent, err)
	}

	ms.mailboxMux.Lock()
	ms.mailboxes[agent] = data
	ms.mailboxMux.Unlock()
	return nil
}

// DeleteMailbox removes a stored mailbox
func (ms *MemoryStorage) DeleteMailbox(ctx context.Context, agent string) error {
	if err := validateAgent(agent); err != nil {
		return err
	}

	ms.mailboxMux.Lock()
	delete(ms.mailboxes, agent)
	ms.mailboxMux.Unlock()
	return nil
}

// MailboxExists reports whether a mailbox is stored for agent
func (ms *MemoryStorage) MailboxExists(ctx context.Context, agent string) (bool, error) {
	if err := validateAgent(agent); err != nil {
		return false, err
	}

	ms.mailboxMux.RLock()
	defer ms.mailboxMux.RUnlock()
	_, exists := ms.mailboxes[agent]
	return exists, nil
}

// EnumerateMailboxes returns the sorted names of all stored mailboxes
func (ms *MemoryStorage) EnumerateMailboxes(ctx context.Context) ([]string, error) {
	ms.mailboxMux.RLock()
	defer ms.mailboxMux.RUnlock()

	names := make([]string, 0, len(ms.mailboxes))
	for name := range ms.mailboxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the storage (no-op for memory storage)
func (ms *MemoryStorage) Close() error {
	return nil
}

// HealthCheck performs a health check (always healthy for memory storage)
func (ms *MemoryStorage) HealthCheck(ctx context.Context) error {
	return nil
}

// PutRaw stores raw bytes for a mailbox, bypassing encoding. Tests use it to
// simulate a damaged value.
func (ms *MemoryStorage) PutRaw(agent string, data []byte) {
	ms.mailboxMux.Lock()
	ms.mailboxes[agent] = append([]byte(nil), data...)
	ms.mailboxMux.Unlock()
}
