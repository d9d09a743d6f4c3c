package commands

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/odoosync/internal/app"
	"github.com/tildaslashalef/odoosync/internal/utils"
)

// ConflictsCommand returns the CLI command for inspecting and resolving
// sync conflicts
func ConflictsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conflicts",
		Usage: "Inspect and resolve sync conflicts",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List conflicts awaiting a decision",
				Action: conflictsListAction,
			},
			{
				Name:      "resolve",
				Usage:     "Resolve a pending conflict",
				ArgsUsage: "<conflict-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "keep-local",
						Usage: "Keep the queued local edit (default keeps the remote version)",
					},
				},
				Action: conflictsResolveAction,
			},
		},
	}
}

func conflictsListAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	pending, err := a.ConflictRepo.ListPending(c.Context)
	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}
	if len(pending) == 0 {
		utils.PrintInfo("No pending conflicts")
		return nil
	}

	rows := make([][]string, 0, len(pending))
	for _, conf := range pending {
		rows = append(rows, []string{
			conf.ID,
			conf.Model,
			fmt.Sprintf("%d", conf.RecordID),
			conf.Field,
			conf.LocalValue,
			conf.RemoteValue,
			conf.DetectedAt.UTC().Format(time.RFC3339),
		})
	}
	utils.PrintTable(
		[]string{"ID", "Model", "Record", "Field", "Local", "Remote", "Detected"},
		rows,
		utils.TableOptions{Title: "Pending Conflicts"},
	)
	return nil
}

func conflictsResolveAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	conflictID := c.Args().First()
	if conflictID == "" {
		return fmt.Errorf("conflict id is required")
	}

	keepLocal := c.Bool("keep-local")
	if err := a.Conflicts.ResolvePending(c.Context, conflictID, keepLocal); err != nil {
		return err
	}

	if keepLocal {
		utils.PrintSuccess("Conflict resolved, keeping the local edit")
	} else {
		utils.PrintSuccess("Conflict resolved, the remote version will apply on the next sync")
	}
	return nil
}
