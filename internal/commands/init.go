package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/odoosync/internal/config"
	"github.com/tildaslashalef/odoosync/internal/database"
	"github.com/tildaslashalef/odoosync/internal/utils"
)

// InitCommand returns the CLI command for initializing odoosync
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize or update the odoosync environment",
		Description: "Sets up the configuration directory and local database. Use this " +
			"for first-time setup or to update the database schema after upgrading.",
		Action: func(c *cli.Context) error {
			utils.PrintHeading("Initializing odoosync")

			homeDir, err := os.UserHomeDir()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to get user home directory: %s", err))
				return fmt.Errorf("failed to get user home directory: %w", err)
			}

			configDir := filepath.Join(homeDir, ".odoosync")
			utils.PrintInfo("Configuration directory: " + color.YellowString("%s", configDir))

			utils.PrintInfo("Writing default configuration file")
			if err := config.SetupConfigDirectory(configDir); err != nil {
				utils.PrintWarning(fmt.Sprintf("Failed to set up configuration files: %s", err))
				// not critical, the environment still applies
			}

			cfg, err := config.LoadFromEnv(configDir, filepath.Join(configDir, ".env"))
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to load configuration: %s", err))
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			utils.PrintInfo("Initializing database...")
			if err := database.InitDB(cfg); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to initialize database: %s", err))
				return fmt.Errorf("failed to initialize database: %w", err)
			}

			utils.PrintInfo("Applying database migrations...")
			if err := database.RunMigrations(); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			utils.PrintSuccess("odoosync initialized successfully!")
			utils.PrintInfo("Edit " + color.YellowString("%s", filepath.Join(configDir, ".env")) +
				" with your server URL, database and API key, then run " +
				color.YellowString("odoosync models discover"))
			return nil
		},
	}
}
