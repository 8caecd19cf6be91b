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
	"errors"
	"fmt"

	"github.com/amtp-protocol/agentmail/internal/agents"
	"github.com/amtp-protocol/agentmail/internal/types"
)

// Storage persists the agent registry and per-agent mailboxes.
//
// Load methods report "absent" as (nil, nil). A stored value that cannot be
// decoded is reported as a *DecodeError so callers can fall back to an empty
// state. Save methods must be durable when they return nil: a crash during a
// save leaves either the previous value or the new one, never a partial one.
type Storage interface {
	// Registry operations
	LoadRegistry(ctx context.Context) ([]string, error)
	SaveRegistry(ctx context.Context, names []string) error

	// Mailbox operations
	LoadMailbox(ctx context.Context, agent string) (*types.MailboxFile, error)
	SaveMailbox(ctx context.Context, agent string, mailbox *types.MailboxFile) error
	DeleteMailbox(ctx context.Context, agent string) error
	MailboxExists(ctx context.Context, agent string) (bool, error)
	EnumerateMailboxes(ctx context.Context) ([]string, error)

	// Maintenance operations
	Close() error
	HealthCheck(ctx context.Context) error
}

// Storage types
const (
	TypeFile     = "file"
	TypeDatabase = "database"
	TypeMemory   = "memory"
)

// StorageConfig defines configuration for storage implementations
type StorageConfig struct {
	Type string `yaml:"type" json:"type"` // "file", "database" or "memory"

	// File storage config
	File *FileStorageConfig `yaml:"file,omitempty" json:"file,omitempty"`

	// Database storage config
	Database *DatabaseStorageConfig `yaml:"database,omitempty" json:"database,omitempty"`
}

// FileStorageConfig configures the JSON file storage
type FileStorageConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// DatabaseStorageConfig configures database storage
type DatabaseStorageConfig struct {
	Driver           string `yaml:"driver" json:"driver"` // "postgres" or "sqlite"
	ConnectionString string `yaml:"connection_string" json:"connection_string"`
	MaxConnections   int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleTime      int    `yaml:"max_idle_time" json:"max_idle_time"`
}

var (
	// ErrInvalidAgentName is returned when an agent name cannot be mapped to a storage key
	ErrInvalidAgentName = errors.New("invalid agent name")

	// ErrDataDirLocked is returned when another process holds the data directory
	ErrDataDirLocked = errors.New("data directory is locked by another process")
)

// DecodeError reports a stored value that exists but cannot be decoded
type DecodeError struct {
	Path        string // file path or table/key of the damaged value
	Quarantined string // where the damaged bytes were moved, if anywhere
	Err         error
}

func (e *DecodeError) Error() string {
	if e.Quarantined != "" {
		return fmt.Sprintf("failed to decode %s (moved to %s): %v", e.Path, e.Quarantined, e.Err)
	}
	return fmt.Sprintf("failed to decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is, or wraps, a *DecodeError
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

func validateAgent(agent string) error {
	if err := agents.ValidateName(agent); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAgentName, err)
	}
	return nil
}
