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
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/amtp-protocol/agentmail/internal/types"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DatabaseStorage struct {
	config DatabaseStorageConfig
	db     *gorm.DB
}

// NewDatabaseStorage creates a new database storage instance. If dbOverride is non-nil, it is used (for testing).
func NewDatabaseStorage(config DatabaseStorageConfig, dbOverride ...*gorm.DB) (*DatabaseStorage, error) {
	var db *gorm.DB
	var err error
	if len(dbOverride) > 0 && dbOverride[0] != nil {
		db = dbOverride[0]
	} else {
		db, err = gorm.Open(dialector(config), &gorm.Config{})
		if err != nil {
			return nil, err
		}

		// Set connection pool settings
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if config.MaxConnections > 0 {
			sqlDB.SetMaxOpenConns(config.MaxConnections)
		}
		if config.MaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(time.Duration(config.MaxIdleTime) * time.Second)
		}
	}
	return &DatabaseStorage{
		config: config,
		db:     db,
	}, nil
}

func dialector(config DatabaseStorageConfig) gorm.Dialector {
	switch strings.ToLower(config.Driver) {
	case DriverSQLite:
		return sqlite.Open(config.ConnectionString)
	default:
		return postgres.New(postgres.Config{
			DSN: config.ConnectionString,
		})
	}
}

// Migrate creates or updates the agents and mailboxes tables
func (ds *DatabaseStorage) Migrate(ctx context.Context) error {
	if err := ds.db.WithContext(ctx).AutoMigrate(&AgentRecord{}, &MailboxRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// LoadRegistry returns every registered agent name
func (ds *DatabaseStorage) LoadRegistry(ctx context.Context) ([]string, error) {
	var names []string
	if err := ds.db.WithContext(ctx).
		Model(&AgentRecord{}).
		Order("name").
		Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return names, nil
}

// SaveRegistry makes the stored registry equal to names
func (ds *DatabaseStorage) SaveRegistry(ctx context.Context, names []string) error {
	want := make(map[string]struct{}, len(names))
	for _, name := range names {
		want[name] = struct{}{}
	}

	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&AgentRecord{}).Pluck("name", &existing).Error; err != nil {
			return fmt.Errorf("failed to read registry: %w", err)
		}

		have := make(map[string]struct{}, len(existing))
		var stale []string
		for _, name := range existing {
			have[name] = struct{}{}
			if _, ok := want[name]; !ok {
				stale = append(stale, name)
			}
		}

		if len(stale) > 0 {
			if err := tx.Where("name IN ?", stale).Delete(&AgentRecord{}).Error; err != nil {
				return fmt.Errorf("failed to remove agents: %w", err)
			}
		}

		var missing []AgentRecord
		for name := range want {
			if _, ok := have[name]; !ok {
				missing = append(missing, AgentRecord{Name: name})
			}
		}
		if len(missing) > 0 {
			if err := tx.Create(&missing).Error; err != nil {
				return fmt.Errorf("failed to add agents: %w", err)
			}
		}

		return nil
	})
}

// LoadMailbox reads one mailbox row; a missing row returns (nil, nil)
func (ds *DatabaseStorage) LoadMailbox(ctx context.Context, agent string) (*types.MailboxFile, error) {
	if err := validateAgent(agent); err != nil {
		return nil, err
	}

	var record MailboxRecord
	if err := ds.db.WithContext(ctx).Where("agent = ?", agent).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load mailbox %s: %w", agent, err)
	}

	mailbox, err := record.MailboxFile()
	if err != nil {
		return nil, &DecodeError{Path: "mailboxes/" + agent, Err: err}
	}
	return mailbox, nil
}

// SaveMailbox upserts one mailbox row
func (ds *DatabaseStorage) SaveMailbox(ctx context.Context, agent string, mailbox *types.MailboxFile) error {
	if err := validateAgent(agent); err != nil {
		return err
	}
	if mailbox == nil {
		mailbox = &types.MailboxFile{}
	}

	record, err := newMailboxRecord(agent, mailbox)
	if err != nil {
		return fmt.Errorf("failed to encode mailbox %s: %w", agent, err)
	}

	if err := ds.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(record).Error; err != nil {
		return fmt.Errorf("failed to save mailbox %s: %w", agent, err)
	}
	return nil
}

// DeleteMailbox removes one mailbox row
func (ds *DatabaseStorage) DeleteMailbox(ctx context.Context, agent string) error {
	if err := validateAgent(agent); err != nil {
		return err
	}

	if err := ds.db.WithContext(ctx).Where("agent = ?", agent).Delete(&MailboxRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete mailbox %s: %w", agent, err)
	}
	return nil
}

// MailboxExists reports whether a mailbox row exists for agent
func (ds *DatabaseStorage) MailboxExists(ctx context.Context, agent string) (bool, error) {
	if err := validateAgent(agent); err != nil {
		return false, err
	}

	var count int64
	if err := ds.db.WithContext(ctx).Model(&MailboxRecord{}).Where("agent = ?", agent).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check mailbox %s: %w", agent, err)
	}
	return count > 0, nil
}

// EnumerateMailboxes lists the owners of all mailbox rows
func (ds *DatabaseStorage) EnumerateMailboxes(ctx context.Context) ([]string, error) {
	var names []string
	if err := ds.db.WithContext(ctx).
		Model(&MailboxRecord{}).
		Order("agent").
		Pluck("agent", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	return names, nil
}

// Close closes the database connection
func (ds *DatabaseStorage) Close() error {
	if ds.db == nil {
		return fmt.Errorf("database instance is nil")
	}
	db, err := ds.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return db.Close()
}

// HealthCheck performs a health check on the database connection
func (ds *DatabaseStorage) HealthCheck(ctx context.Context) error {
	if ds.db == nil {
		return fmt.Errorf("database instance is nil")
	}
	db, err := ds.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}
