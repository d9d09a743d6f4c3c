package commands

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/odoosync/internal/app"
	"github.com/tildaslashalef/odoosync/internal/discovery"
	"github.com/tildaslashalef/odoosync/internal/utils"
)

// ModelsCommand returns the CLI command for managing syncable models
func ModelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "Manage the set of syncable remote models",
		Subcommands: []*cli.Command{
			{
				Name:        "list",
				Usage:       "List known models",
				Description: "Shows the persisted model registry from the last discovery",
				Action:      modelsListAction,
			},
			{
				Name:        "discover",
				Usage:       "Discover syncable models from the server",
				Description: "Queries the remote model registry and probes read access per model",
				Action:      modelsDiscoverAction,
			},
			{
				Name:        "refresh",
				Usage:       "Force a fresh discovery",
				Description: "Drops the discovery cache and re-arms the circuit breaker before discovering",
				Action:      modelsRefreshAction,
			},
			{
				Name:      "enable",
				Usage:     "Enable a model for sync",
				ArgsUsage: "<model>",
				Action:    func(c *cli.Context) error { return setModelEnabled(c, true) },
			},
			{
				Name:      "disable",
				Usage:     "Exclude a model from sync",
				ArgsUsage: "<model>",
				Action:    func(c *cli.Context) error { return setModelEnabled(c, false) },
			},
		},
	}
}

func modelsListAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	descriptors, err := a.ModelsRepo.ListDescriptors(c.Context)
	if err != nil {
		return fmt.Errorf("listing model registry: %w", err)
	}
	if len(descriptors) == 0 {
		utils.PrintInfo("No models discovered yet, run 'odoosync models discover'")
		return nil
	}

	printDescriptors(descriptors)
	return nil
}

func modelsDiscoverAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	utils.PrintInfo("Discovering syncable models...")
	descriptors, err := a.Discovery.Discover(c.Context)
	if err != nil {
		return fmt.Errorf("discovering models: %w", err)
	}

	utils.PrintSuccess(fmt.Sprintf("Found %d syncable model(s)", len(descriptors)))
	printDescriptors(descriptors)
	return nil
}

func modelsRefreshAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	a.Discovery.Reset()
	a.Fields.Reset()
	return modelsDiscoverAction(c)
}

func setModelEnabled(c *cli.Context, enabled bool) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	model := c.Args().First()
	if model == "" {
		return fmt.Errorf("model name is required")
	}

	if err := a.ModelsRepo.SetEnabled(c.Context, model, enabled); err != nil {
		return err
	}
	if enabled {
		utils.PrintSuccess(fmt.Sprintf("%s enabled for sync", model))
	} else {
		utils.PrintSuccess(fmt.Sprintf("%s excluded from sync", model))
	}
	return nil
}

func printDescriptors(descriptors []discovery.ModelDescriptor) {
	rows := make([][]string, 0, len(descriptors))
	for _, d := range descriptors {
		enabled := "yes"
		if !d.Enabled {
			enabled = "no"
		}
		rows = append(rows, []string{
			d.Name,
			d.DisplayName,
			string(d.SyncType),
			enabled,
			d.DiscoveredAt.UTC().Format(time.RFC3339),
		})
	}
	utils.PrintTable(
		[]string{"Model", "Name", "Sync Type", "Enabled", "Discovered"},
		rows,
		utils.TableOptions{Title: "Syncable Models"},
	)
}
