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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/amtp-protocol/agentmail/internal/types"
)

const (
	registryFileName = "registry.json"
	mailboxDirName   = "mailboxes"
	lockFileName     = ".lock"
	mailboxFileExt   = ".json"

	// DefaultDataDir is used when no data directory is configured
	DefaultDataDir = "./data"
)

// FileStorage keeps the registry and every mailbox as JSON files:
//
//	<data_dir>/registry.json
//	<data_dir>/mailboxes/<agent>.json
//
// The data directory is locked for the lifetime of the store so that only
// one process writes to it.
type FileStorage struct {
	dataDir    string
	mailboxDir string
	lock       *flock.Flock
	now        func() time.Time
}

// NewFileStorage creates the directory layout if needed and locks it
func NewFileStorage(config FileStorageConfig) (*FileStorage, error) {
	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir
	}

	mailboxDir := filepath.Join(dataDir, mailboxDirName)
	if err := os.MkdirAll(mailboxDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mailbox directory: %w", err)
	}

	lock := flock.New(filepath.Join(dataDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrDataDirLocked, dataDir)
	}

	return &FileStorage{
		dataDir:    dataDir,
		mailboxDir: mailboxDir,
		lock:       lock,
		now:        time.Now,
	}, nil
}

// DataDir returns the root directory of the store
func (s *FileStorage) DataDir() string {
	return s.dataDir
}

// LoadRegistry reads the registry file; a missing file is an empty registry
func (s *FileStorage) LoadRegistry(ctx context.Context) ([]string, error) {
	path := s.registryPath()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	names, err := types.DecodeRegistry(data)
	if err != nil {
		return nil, s.quarantine(path, err)
	}
	return names, nil
}

// SaveRegistry writes the full registry, sorted by name
func (s *FileStorage) SaveRegistry(ctx context.Context, names []string) error {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	data, err := types.EncodeRegistry(sorted)
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	if err := writeFileAtomic(s.registryPath(), data); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return nil
}

// LoadMailbox reads one mailbox file; a missing file returns (nil, nil)
func (s *FileStorage) LoadMailbox(ctx context.Context, agent string) (*types.MailboxFile, error) {
	if err := validateAgent(agent); err != nil {
		return nil, err
	}

	path := s.mailboxPath(agent)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mailbox %s: %w", agent, err)
	}

	mailbox, err := types.DecodeMailbox(data)
	if err != nil {
		return nil, s.quarantine(path, err)
	}
	return mailbox, nil
}

// SaveMailbox atomically replaces one mailbox file
func (s *FileStorage) SaveMailbox(ctx context.Context, agent string, mailbox *types.MailboxFile) error {
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
	if err := writeFileAtomic(s.mailboxPath(agent), data); err != nil {
		return fmt.Errorf("failed to save mailbox %s: %w", agent, err)
	}
	return nil
}

// DeleteMailbox removes a mailbox file; removing a missing file succeeds
func (s *FileStorage) DeleteMailbox(ctx context.Context, agent string) error {
	if err := validateAgent(agent); err != nil {
		return err
	}

	if err := os.Remove(s.mailboxPath(agent)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete mailbox %s: %w", agent, err)
	}
	if err := syncDir(s.mailboxDir); err != nil {
		return fmt.Errorf("failed to sync mailbox directory: %w", err)
	}
	return nil
}

// MailboxExists reports whether a mailbox file is present for agent
func (s *FileStorage) MailboxExists(ctx context.Context, agent string) (bool, error) {
	if err := validateAgent(agent); err != nil {
		return false, err
	}

	_, err := os.Stat(s.mailboxPath(agent))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat mailbox %s: %w", agent, err)
}

// EnumerateMailboxes derives agent names from the mailbox files present.
// Temporary, hidden and quarantined files are skipped.
func (s *FileStorage) EnumerateMailboxes(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.mailboxDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailbox directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		fileName := entry.Name()
		if strings.HasPrefix(fileName, ".") || !strings.HasSuffix(fileName, mailboxFileExt) {
			continue
		}
		name := strings.TrimSuffix(fileName, mailboxFileExt)
		if validateAgent(name) != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Close releases the data directory lock
func (s *FileStorage) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

// HealthCheck verifies the data directory is reachable and still locked
func (s *FileStorage) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.mailboxDir); err != nil {
		return fmt.Errorf("mailbox directory unavailable: %w", err)
	}
	if s.lock == nil || !s.lock.Locked() {
		return fmt.Errorf("data directory lock not held")
	}
	return nil
}

func (s *FileStorage) registryPath() string {
	return filepath.Join(s.dataDir, registryFileName)
}

func (s *FileStorage) mailboxPath(agent string) string {
	return filepath.Join(s.mailboxDir, agent+mailboxFileExt)
}

// quarantine moves an undecodable file aside so a later save does not
// overwrite the only copy of its bytes
func (s *FileStorage) quarantine(path string, cause error) error {
	decodeErr := &DecodeError{Path: path, Err: cause}

	target := fmt.Sprintf("%s.corrupt-%d", path, s.now().Unix())
	if err := atomicRename(path, target); err == nil {
		decodeErr.Quarantined = target
	}
	return decodeErr
}

// writeFileAtomic writes data to a hidden temporary file in the target's
// directory, syncs it and renames it over path
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = atomicRename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	if err = syncDir(dir); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}
