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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/amtp-protocol/agentmail/internal/storage"
)

// Defaults shared with other packages
const (
	DefaultAPIKeyHeader  = "X-API-Key"
	DefaultSender        = "Assistant"
	DefaultServerAddress = ":8000"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	TLS     TLSConfig      `yaml:"tls"`
	Auth    AuthConfig     `yaml:"auth"`
	Storage StorageConfig  `yaml:"storage"`
	Message MessageConfig  `yaml:"message"`
	Logging LoggingConfig  `yaml:"logging"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"`
}

// AuthConfig holds the shared-secret authentication configuration
type AuthConfig struct {
	RequireAuth  bool   `yaml:"require_auth"`
	APIKey       string `yaml:"api_key"`
	APIKeyFile   string `yaml:"api_key_file"` // Path to a file holding the API key
	APIKeyHeader string `yaml:"api_key_header"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Type               string         `yaml:"type"` // "file", "database" or "memory"
	DataDir            string         `yaml:"data_dir"`
	PreloadConcurrency int            `yaml:"preload_concurrency"`
	Database           DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds database backend configuration
type DatabaseConfig struct {
	Driver           string `yaml:"driver"` // "postgres" or "sqlite"
	ConnectionString string `yaml:"connection_string"`
	MaxConnections   int    `yaml:"max_connections"`
	MaxIdleTime      int    `yaml:"max_idle_time"` // seconds
}

// MessageConfig holds message handling configuration
type MessageConfig struct {
	MaxSize       int64  `yaml:"max_size"`
	DefaultSender string `yaml:"default_sender"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Flags holds the command line overrides
type Flags struct {
	ConfigFile  string
	Address     string
	StorageType string
	DataDir     string
	APIKeyFile  string
	LogLevel    string
}

// BindFlags registers the server's command line flags on fs
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVarP(&f.ConfigFile, "config", "c", "", "Path to configuration file (YAML)")
	fs.StringVar(&f.Address, "address", "", "Listen address, e.g. :8000")
	fs.StringVar(&f.StorageType, "storage", "", "Storage backend: file, database or memory")
	fs.StringVar(&f.DataDir, "data-dir", "", "Directory holding registry and mailbox files")
	fs.StringVar(&f.APIKeyFile, "api-key-file", "", "Path to API key file")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn or error")
	return f
}

// Load loads configuration from YAML file and environment variables
// Command line flags take precedence over environment variables
// Environment variables take precedence over YAML file values
func Load(flags *Flags) (*Config, error) {
	if flags == nil {
		flags = &Flags{}
	}

	// Start with default configuration
	cfg := getDefaultConfig()

	if err := loadFromYAML(cfg, flags.ConfigFile); err != nil {
		return nil, fmt.Errorf("failed to load YAML config: %w", err)
	}

	// Override with environment variables
	loadFromEnv(cfg)

	// Override with command line flags
	applyFlags(cfg, flags)

	if err := cfg.resolveAPIKey(); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// getDefaultConfig returns a configuration with default values
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultServerAddress,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		TLS: TLSConfig{
			Enabled:    false,
			MinVersion: "1.3",
		},
		Auth: AuthConfig{
			RequireAuth:  true,
			APIKeyHeader: DefaultAPIKeyHeader,
		},
		Storage: StorageConfig{
			Type:               storage.TypeFile,
			DataDir:            storage.DefaultDataDir,
			PreloadConcurrency: 8,
			Database: DatabaseConfig{
				Driver:         storage.DriverPostgres,
				MaxConnections: 10,
				MaxIdleTime:    300,
			},
		},
		Message: MessageConfig{
			MaxSize:       1024 * 1024, // 1MB
			DefaultSender: DefaultSender,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadFromYAML loads configuration from a YAML file
func loadFromYAML(cfg *Config, configFile string) error {
	// Only load config file if explicitly provided via command line
	if configFile == "" {
		return nil
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config file %s: %w", configFile, err)
	}

	return nil
}

// loadFromEnv overrides configuration with environment variables
func loadFromEnv(cfg *Config) {
	// Server configuration
	if val := getEnv("MAILBOX_SERVER_ADDRESS", ""); val != "" {
		cfg.Server.Address = val
	}
	if val := getDurationEnv("MAILBOX_READ_TIMEOUT", 0); val != 0 {
		cfg.Server.ReadTimeout = val
	}
	if val := getDurationEnv("MAILBOX_WRITE_TIMEOUT", 0); val != 0 {
		cfg.Server.WriteTimeout = val
	}
	if val := getDurationEnv("MAILBOX_IDLE_TIMEOUT", 0); val != 0 {
		cfg.Server.IdleTimeout = val
	}
	if val := getDurationEnv("MAILBOX_SHUTDOWN_TIMEOUT", 0); val != 0 {
		cfg.Server.ShutdownTimeout = val
	}

	// TLS configuration
	cfg.TLS.Enabled = getBoolEnv("MAILBOX_TLS_ENABLED", cfg.TLS.Enabled)
	if val := getEnv("MAILBOX_TLS_CERT_FILE", ""); val != "" {
		cfg.TLS.CertFile = val
	}
	if val := getEnv("MAILBOX_TLS_KEY_FILE", ""); val != "" {
		cfg.TLS.KeyFile = val
	}
	if val := getEnv("MAILBOX_TLS_MIN_VERSION", ""); val != "" {
		cfg.TLS.MinVersion = val
	}

	// Auth configuration
	cfg.Auth.RequireAuth = getBoolEnv("MAILBOX_AUTH_REQUIRED", cfg.Auth.RequireAuth)
	if val := getEnv("MAILBOX_API_KEY", ""); val != "" {
		cfg.Auth.APIKey = val
	}
	if val := getEnv("MAILBOX_API_KEY_FILE", ""); val != "" {
		cfg.Auth.APIKeyFile = val
	}
	if val := getEnv("MAILBOX_API_KEY_HEADER", ""); val != "" {
		cfg.Auth.APIKeyHeader = val
	}

	// Storage configuration
	if val := getEnv("MAILBOX_STORAGE_TYPE", ""); val != "" {
		cfg.Storage.Type = val
	}
	if val := getEnv("MAILBOX_DATA_DIR", ""); val != "" {
		cfg.Storage.DataDir = val
	}
	if val := getIntEnv("MAILBOX_PRELOAD_CONCURRENCY", 0); val != 0 {
		cfg.Storage.PreloadConcurrency = val
	}
	if val := getEnv("MAILBOX_DB_DRIVER", ""); val != "" {
		cfg.Storage.Database.Driver = val
	}
	if val := getEnv("MAILBOX_DB_CONNECTION_STRING", ""); val != "" {
		cfg.Storage.Database.ConnectionString = val
	}
	if val := getIntEnv("MAILBOX_DB_MAX_CONNECTIONS", 0); val != 0 {
		cfg.Storage.Database.MaxConnections = val
	}

	// Message configuration
	if val := getInt64Env("MAILBOX_MESSAGE_MAX_SIZE", 0); val != 0 {
		cfg.Message.MaxSize = val
	}
	if val := getEnv("MAILBOX_DEFAULT_SENDER", ""); val != "" {
		cfg.Message.DefaultSender = val
	}

	// Logging configuration
	if val := getEnv("MAILBOX_LOG_LEVEL", ""); val != "" {
		cfg.Logging.Level = val
	}
	if val := getEnv("MAILBOX_LOG_FORMAT", ""); val != "" {
		cfg.Logging.Format = val
	}

	// Metrics configuration
	if getBoolEnv("MAILBOX_METRICS_ENABLED", false) {
		if cfg.Metrics == nil {
			cfg.Metrics = &MetricsConfig{}
		}
		cfg.Metrics.Enabled = true
	}
}

// applyFlags overrides configuration with command line flags
func applyFlags(cfg *Config, flags *Flags) {
	if flags.Address != "" {
		cfg.Server.Address = flags.Address
	}
	if flags.StorageType != "" {
		cfg.Storage.Type = flags.StorageType
	}
	if flags.DataDir != "" {
		cfg.Storage.DataDir = flags.DataDir
	}
	if flags.APIKeyFile != "" {
		cfg.Auth.APIKeyFile = flags.APIKeyFile
	}
	if flags.LogLevel != "" {
		cfg.Logging.Level = flags.LogLevel
	}
}

// resolveAPIKey reads the API key file when one is configured. A key given
// directly wins over the file.
func (c *Config) resolveAPIKey() error {
	if c.Auth.APIKey != "" || c.Auth.APIKeyFile == "" {
		return nil
	}

	data, err := os.ReadFile(c.Auth.APIKeyFile)
	if err != nil {
		return fmt.Errorf("failed to read API key file %s: %w", c.Auth.APIKeyFile, err)
	}

	c.Auth.APIKey = strings.TrimSpace(string(data))
	if c.Auth.APIKey == "" {
		return fmt.Errorf("API key file %s is empty", c.Auth.APIKeyFile)
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server address is required")
	}

	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("TLS cert and key files are required when TLS is enabled")
	}

	if c.Auth.RequireAuth {
		if c.Auth.APIKey == "" {
			return fmt.Errorf("an API key is required when authentication is enabled (set MAILBOX_API_KEY or auth.api_key_file)")
		}
		if c.Auth.APIKeyHeader == "" {
			return fmt.Errorf("API key header cannot be empty")
		}
	}

	if c.Message.MaxSize <= 0 {
		return fmt.Errorf("message max size must be positive")
	}

	if err := c.validateStorage(); err != nil {
		return fmt.Errorf("invalid storage configuration: %w", err)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Logging.Format)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("unsupported log level: %s", c.Logging.Level)
	}

	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.PreloadConcurrency <= 0 {
		return fmt.Errorf("preload concurrency must be positive")
	}

	switch strings.ToLower(c.Storage.Type) {
	case storage.TypeFile:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("data directory is required for file storage")
		}
	case storage.TypeMemory:
	case storage.TypeDatabase:
		switch strings.ToLower(c.Storage.Database.Driver) {
		case storage.DriverPostgres, storage.DriverSQLite:
		default:
			return fmt.Errorf("unsupported database driver: %s", c.Storage.Database.Driver)
		}
		if c.Storage.Database.ConnectionString == "" {
			return fmt.Errorf("connection string is required for database storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	return nil
}

// StorageOptions converts the storage section to the storage factory's configuration
func (c *Config) StorageOptions() storage.StorageConfig {
	return storage.StorageConfig{
		Type: strings.ToLower(c.Storage.Type),
		File: &storage.FileStorageConfig{
			DataDir: c.Storage.DataDir,
		},
		Database: &storage.DatabaseStorageConfig{
			Driver:           strings.ToLower(c.Storage.Database.Driver),
			ConnectionString: c.Storage.Database.ConnectionString,
			MaxConnections:   c.Storage.Database.MaxConnections,
			MaxIdleTime:      c.Storage.Database.MaxIdleTime,
		},
	}
}

// MetricsEnabled reports whether the Prometheus endpoint should be served
func (c *Config) MetricsEnabled() bool {
	return c.Metrics != nil && c.Metrics.Enabled
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
