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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStorage(t *testing.T) (*FileStorage, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFileStorage(FileStorageConfig{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestFileStorageLayout(t *testing.T) {
	s, dir := newTestFileStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRegistry(ctx, []string{"recipient1"}))
	require.NoError(t, s.SaveMailbox(ctx, "recipient1", sampleMailbox()))

	registry, err := os.ReadFile(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `["recipient1"]`, string(registry))

	data, err := os.ReadFile(filepath.Join(dir, "mailboxes", "recipient1.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"max_key": 3,
		"messages": {
			"msg3": {"message": "third", "sender": "sender1", "recipient": "recipient1", "timestamp": "2025-06-01 08:30:00"},
			"msg2": {"message": "second", "sender": "sender1", "recipient": "recipient1", "timestamp": "2025-06-01 08:30:00"}
		}
	}`, string(data))
	assert.Less(t, strings.Index(string(data), `"max_key"`), strings.Index(string(data), `"messages"`))
}

func TestFileStorageLeavesNoTempFiles(t *testing.T) {
	s, dir := newTestFileStorage(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveMailbox(ctx, "recipient1", sampleMailbox()))
		require.NoError(t, s.SaveRegistry(ctx, []string{"recipient1"}))
	}

	for _, sub := range []string{dir, filepath.Join(dir, "mailboxes")} {
		entries, err := os.ReadDir(sub)
		require.NoError(t, err)
		for _, entry := range entries {
			assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "leftover temp file %s", entry.Name())
		}
	}
}

func TestFileStorageQuarantinesCorruptMailbox(t *testing.T) {
	s, dir := newTestFileStorage(t)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	ctx := context.Background()

	path := filepath.Join(dir, "mailboxes", "recipient1.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_key": 2, "messages": {`), 0o644))

	mailbox, err := s.LoadMailbox(ctx, "recipient1")
	assert.Nil(t, mailbox)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, path, decodeErr.Path)
	assert.Equal(t, path+".corrupt-1700000000", decodeErr.Quarantined)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupt file should be moved aside")

	preserved, err := os.ReadFile(decodeErr.Quarantined)
	require.NoError(t, err)
	assert.Equal(t, `{"max_key": 2, "messages": {`, string(preserved))

	names, err := s.EnumerateMailboxes(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "quarantined files are not mailboxes")
}

func TestFileStorageQuarantinesCorruptRegistry(t *testing.T) {
	s, dir := newTestFileStorage(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "registry.json"), []byte(`{"not": "a list"}`), 0o644))

	names, err := s.LoadRegistry(context.Background())
	assert.Nil(t, names)
	assert.True(t, IsDecodeError(err))
}

func TestFileStorageEnumerateSkipsForeignFiles(t *testing.T) {
	s, dir := newTestFileStorage(t)
	mailboxDir := filepath.Join(dir, "mailboxes")

	for _, name := range []string{"alpha.json", ".alpha.json.123.tmp", "notes.txt", "beta.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(mailboxDir, name), []byte(`{}`), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(mailboxDir, "gamma.json"), 0o755))

	names, err := s.EnumerateMailboxes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestFileStorageSingleWriter(t *testing.T) {
	_, dir := newTestFileStorage(t)

	_, err := NewFileStorage(FileStorageConfig{DataDir: dir})
	assert.ErrorIs(t, err, ErrDataDirLocked)
}

func TestFileStorageReopenAfterClose(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileStorage(FileStorageConfig{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, first.SaveMailbox(ctx, "recipient1", sampleMailbox()))
	require.NoError(t, first.Close())

	second, err := NewFileStorage(FileStorageConfig{DataDir: dir})
	require.NoError(t, err)
	defer second.Close()

	loaded, err := second.LoadMailbox(ctx, "recipient1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint64(3), loaded.MaxKey)
}

func TestFileStorageHealthCheckAfterClose(t *testing.T) {
	s, _ := newTestFileStorage(t)
	require.NoError(t, s.HealthCheck(context.Background()))

	require.NoError(t, s.Close())
	assert.Error(t, s.HealthCheck(context.Background()))
}
