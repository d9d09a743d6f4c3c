package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

//go:embed default.env
var defaultEnvFile []byte

// SetupConfigDirectory writes the default .env template into the config
// directory. An existing .env is backed up with a dated suffix first so an
// upgrade never clobbers user settings.
func SetupConfigDirectory(configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	envPath := filepath.Join(configDir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", envPath, time.Now().Format("2006-01-02"))
		if err := os.Rename(envPath, backupPath); err != nil {
			return fmt.Errorf("backing up existing config: %w", err)
		}
	}

	if err := os.WriteFile(envPath, defaultEnvFile, 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
