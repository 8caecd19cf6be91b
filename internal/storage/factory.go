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
	"strings"
)

// NewStorage creates a new storage instance based on the configuration
func NewStorage(config StorageConfig) (Storage, error) {
	storageType := strings.ToLower(config.Type)
	if storageType == "" {
		storageType = TypeFile // Default to file storage
	}

	switch storageType {
	case TypeFile:
		fileConfig := FileStorageConfig{}
		if config.File != nil {
			fileConfig = *config.File
		}
		return NewFileStorage(fileConfig)

	case TypeMemory:
		return NewMemoryStorage(), nil

	case TypeDatabase:
		dbConfig := DatabaseStorageConfig{}
		if config.Database != nil {
			dbConfig = *config.Database
		}
		ds, err := NewDatabaseStorage(dbConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := ds.Migrate(context.Background()); err != nil {
			_ = ds.Close()
			return nil, err
		}
		return ds, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// DefaultStorageConfig returns a default storage configuration
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Type: TypeFile,
		File: &FileStorageConfig{
			DataDir: DefaultDataDir,
		},
	}
}
