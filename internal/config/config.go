// Package config holds application configuration for odoosync
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// Global configuration instance
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Get returns the global configuration instance
func Get() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return globalConfig, nil
}

// Set sets the global configuration instance
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = cfg
}

// Config represents the complete application configuration
type Config struct {
	Odoo     OdooConfig
	Sync     SyncConfig
	Database DatabaseConfig
	Logging  LoggingConfig

	configDir string // Internal: directory the config was loaded from
}

// OdooConfig holds connection settings for the remote model server
type OdooConfig struct {
	URL      string // Server base URL, e.g. https://example.odoo.com
	Database string // Database name
	Username string // Login
	APIKey   string // API key or password

	Timeout    time.Duration // Per-request timeout
	MaxRetries int           // Maximum number of retries on transient failure

	// Rate limiting
	RequestsPerMinute int
	BurstLimit        int
}

// SyncConfig holds tuning knobs for the synchronization engine
type SyncConfig struct {
	TimeWindow   time.Duration // Global time window for initial syncs (0 means "all")
	RecordLimit  int           // Per-model record limit per run
	ModelTimeout time.Duration // Per-model query timeout

	DiscoveryTTL  time.Duration // How long discovered model descriptors stay fresh
	BreakerMax    int           // Max discovery calls per rolling window
	BreakerWindow time.Duration // Rolling window for the discovery circuit breaker

	MaxReplayRetries int    // Retry cap before an offline mutation goes terminal
	ConflictPolicy   string // "last_write_wins" or "ask_user"

	AutoSync       bool // Sync automatically after mutations are replayed
	BackgroundSync bool // Allow background sync scheduling
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	CacheSize       int           // Cache size in KiB
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
	QueryTimeout    time.Duration // Query timeout
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool   // Include source code position in logs
	TimeFormat string // Time format for logs (empty uses RFC3339)
}

// New returns a new empty Config
func New() *Config {
	return &Config{}
}

// ConfigDir returns the directory the configuration was loaded from
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateOdoo(); err != nil {
		return fmt.Errorf("odoo config: %w", err)
	}

	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func (c *Config) validateOdoo() error {
	if c.Odoo.URL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}

	if c.Odoo.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}

	if c.Odoo.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if c.Odoo.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.Odoo.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.TimeWindow < 0 {
		return fmt.Errorf("time window cannot be negative")
	}

	if c.Sync.RecordLimit <= 0 {
		return fmt.Errorf("record limit must be positive")
	}

	if c.Sync.ModelTimeout <= 0 {
		return fmt.Errorf("model timeout must be positive")
	}

	if c.Sync.BreakerMax <= 0 {
		return fmt.Errorf("breaker max must be positive")
	}

	if c.Sync.BreakerWindow <= 0 {
		return fmt.Errorf("breaker window must be positive")
	}

	if c.Sync.MaxReplayRetries <= 0 {
		return fmt.Errorf("max replay retries must be positive")
	}

	policy := strings.ToLower(c.Sync.ConflictPolicy)
	if policy != "last_write_wins" && policy != "ask_user" {
		return fmt.Errorf("invalid conflict policy: %s", c.Sync.ConflictPolicy)
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	// Create the directory if it doesn't exist
	dir := filepath.Dir(c.Database.Path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	if c.Database.BusyTimeout <= 0 {
		return fmt.Errorf("busy timeout must be positive")
	}

	if c.Database.ConnMaxLife <= 0 {
		return fmt.Errorf("connection max life must be positive")
	}

	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}

	return nil
}

func (c *Config) validateLogging() error {
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" && level != "none" {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	format := strings.ToLower(c.Logging.Format)
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// ParseLogLevel parses a log level string to a slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		// Set to a very high level that won't be triggered
		return slog.Level(9999)
	default:
		return slog.LevelInfo
	}
}

// getEnvString returns a string from the environment variable
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns an int from the environment variable
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool returns a bool from the environment variable
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration returns a time.Duration from the environment variable
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
