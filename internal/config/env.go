package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// LoadFromEnv loads configuration from environment variables, optionally
// seeded from a .env file in the config directory.
//
// Parameters:
// - configDir: directory containing config files (or empty for ~/.odoosync)
// - configFilePath: path to .env file (or empty for <configDir>/.env)
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg := New()

	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".odoosync")
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg.configDir = configDir

	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	// A missing .env file is fine; the environment still applies
	if _, err := os.Stat(configFilePath); err == nil {
		if err := godotenv.Load(configFilePath); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", configFilePath, err)
		}
	}

	cfg.Odoo = OdooConfig{
		URL:               getEnvString("ODOOSYNC_SERVER_URL", ""),
		Database:          getEnvString("ODOOSYNC_DATABASE", ""),
		Username:          getEnvString("ODOOSYNC_USERNAME", ""),
		APIKey:            getEnvString("ODOOSYNC_API_KEY", ""),
		Timeout:           getEnvDuration("ODOOSYNC_REQUEST_TIMEOUT", 30*time.Second),
		MaxRetries:        getEnvInt("ODOOSYNC_MAX_RETRIES", 2),
		RequestsPerMinute: getEnvInt("ODOOSYNC_REQUESTS_PER_MINUTE", 120),
		BurstLimit:        getEnvInt("ODOOSYNC_BURST_LIMIT", 10),
	}

	cfg.Sync = SyncConfig{
		TimeWindow:       getEnvDuration("ODOOSYNC_TIME_WINDOW", 7*24*time.Hour),
		RecordLimit:      getEnvInt("ODOOSYNC_RECORD_LIMIT", 1000),
		ModelTimeout:     getEnvDuration("ODOOSYNC_MODEL_TIMEOUT", 60*time.Second),
		DiscoveryTTL:     getEnvDuration("ODOOSYNC_DISCOVERY_TTL", time.Hour),
		BreakerMax:       getEnvInt("ODOOSYNC_BREAKER_MAX", 5),
		BreakerWindow:    getEnvDuration("ODOOSYNC_BREAKER_WINDOW", time.Minute),
		MaxReplayRetries: getEnvInt("ODOOSYNC_MAX_REPLAY_RETRIES", 3),
		ConflictPolicy:   getEnvString("ODOOSYNC_CONFLICT_POLICY", "last_write_wins"),
		AutoSync:         getEnvBool("ODOOSYNC_AUTO_SYNC", false),
		BackgroundSync:   getEnvBool("ODOOSYNC_BACKGROUND_SYNC", false),
	}

	cfg.Database = DatabaseConfig{
		Path:            getEnvString("ODOOSYNC_DB_PATH", filepath.Join(configDir, "odoosync.db")),
		JournalMode:     getEnvString("ODOOSYNC_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("ODOOSYNC_DB_SYNCHRONOUS", "NORMAL"),
		BusyTimeout:     getEnvInt("ODOOSYNC_DB_BUSY_TIMEOUT", 5000),
		CacheSize:       getEnvInt("ODOOSYNC_DB_CACHE_SIZE", -64000),
		ForeignKeys:     getEnvBool("ODOOSYNC_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("ODOOSYNC_DB_CONN_MAX_LIFE", time.Hour),
		QueryTimeout:    getEnvDuration("ODOOSYNC_DB_QUERY_TIMEOUT", 30*time.Second),
	}

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("ODOOSYNC_LOG_LEVEL", "info"),
		Format:     getEnvString("ODOOSYNC_LOG_FORMAT", "text"),
		Output:     getEnvString("ODOOSYNC_LOG_OUTPUT", filepath.Join(configDir, "odoosync.log")),
		AddSource:  getEnvBool("ODOOSYNC_LOG_ADD_SOURCE", false),
		TimeFormat: getEnvString("ODOOSYNC_LOG_TIME_FORMAT", time.RFC3339),
	}

	return cfg, nil
}
