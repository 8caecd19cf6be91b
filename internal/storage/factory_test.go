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
	"path/filepath"
	"testing"
)

func TestNewStorage(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		config   StorageConfig
		wantType string
		wantErr  bool
	}{
		{"default is file", StorageConfig{File: &FileStorageConfig{DataDir: filepath.Join(dir, "default")}}, "file", false},
		{"file", StorageConfig{Type: "file", File: &FileStorageConfig{DataDir: filepath.Join(dir, "file")}}, "file", false},
		{"memory", StorageConfig{Type: "MEMORY"}, "memory", false},
		{"sqlite database", StorageConfig{Type: "database", Database: &DatabaseStorageConfig{Driver: "sqlite", ConnectionString: filepath.Join(dir, "mail.db")}}, "database", false},
		{"unknown", StorageConfig{Type: "redis"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStorage(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStorage failed: %v", err)
			}
			defer s.Close()

			var got string
			switch s.(type) {
			case *FileStorage:
				got = "file"
			case *MemoryStorage:
				got = "memory"
			case *DatabaseStorage:
				got = "database"
			}
			if got != tt.wantType {
				t.Errorf("expected %s storage, got %T", tt.wantType, s)
			}
		})
	}
}

func TestDefaultStorageConfig(t *testing.T) {
	cfg := DefaultStorageConfig()
	if cfg.Type != TypeFile {
		t.Errorf("expected file storage, got %s", cfg.Type)
	}
	if cfg.File == nil || cfg.File.DataDir != DefaultDataDir {
		t.Errorf("expected data dir %s, got %+v", DefaultDataDir, cfg.File)
	}
}
