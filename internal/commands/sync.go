// Package commands implements the CLI surface of odoosync.
package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/odoosync/internal/app"
	"github.com/tildaslashalef/odoosync/internal/conflict"
	"github.com/tildaslashalef/odoosync/internal/sync"
	"github.com/tildaslashalef/odoosync/internal/utils"
)

// SyncCommand returns the CLI command for running sync operations
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:        "sync",
		Usage:       "Pull remote records into the local store",
		Description: "Runs an incremental sync of the configured models. Interrupt with Ctrl-C to cancel; the in-flight model finishes before the run stops.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "models",
				Aliases: []string{"m"},
				Usage:   "Sync only the named models (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "full",
				Usage: "Ignore stored watermarks and pull the full configured window",
			},
			&cli.BoolFlag{
				Name:  "replay",
				Usage: "Replay queued offline mutations before pulling",
			},
		},
		Action: syncRunAction,
		Subcommands: []*cli.Command{
			{
				Name:        "status",
				Usage:       "Show sync status",
				Description: "Display per-model watermarks and recent sync runs",
				Action:      syncStatusAction,
			},
			{
				Name:        "config",
				Usage:       "Configure sync settings",
				Description: "Show or modify the persisted sync settings",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "window",
						Usage: "Global time window for initial syncs (0 means all)",
					},
					&cli.StringFlag{
						Name:  "policy",
						Usage: "Conflict policy: last_write_wins or ask_user",
					},
					&cli.StringSliceFlag{
						Name:  "model-window",
						Usage: "Per-model window override, model=duration (e.g. crm.lead=24h)",
					},
					&cli.StringSliceFlag{
						Name:  "sync-all",
						Usage: "Models that always pull everything on a full sync (repeatable)",
					},
				},
				Action: syncConfigAction,
			},
		},
	}
}

func syncRunAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if c.Bool("replay") {
		result, err := a.Queue.DrainAndReplay(c.Context)
		if err != nil {
			utils.PrintWarning(fmt.Sprintf("Queue replay failed: %s", err))
		} else if result.Replayed+result.Failed+result.Skipped > 0 {
			utils.PrintInfo(fmt.Sprintf("Queue replay: %d sent, %d failed, %d deferred",
				result.Replayed, result.Failed, result.Skipped))
		}
	}

	// Ctrl-C requests cooperative cancellation; the in-flight model commits
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			utils.PrintWarning("Cancelling sync, waiting for the current model to finish...")
			a.Sync.CancelSync()
		}
	}()

	unsub := a.Sync.OnStatusChange(func(st sync.SyncStatus) {
		if st.State == sync.StateRunning && st.CurrentModel != "" {
			fmt.Printf("  %s %s (%d%%)\n", utils.Theme.Accent.Sprint("syncing"), st.CurrentModel, st.Progress)
		}
	})
	defer unsub()

	utils.PrintHeading("Starting sync")
	started := time.Now()
	err = a.Sync.StartSync(c.Context, c.StringSlice("models"), c.Bool("full"))
	if err != nil {
		utils.PrintError(fmt.Sprintf("Sync failed: %s", err))
		return err
	}

	printSyncSummary(a.Sync.GetStatus(), time.Since(started))
	return nil
}

func printSyncSummary(status sync.SyncStatus, elapsed time.Duration) {
	utils.PrintDivider()
	switch {
	case status.Offline:
		color.Yellow("Server unreachable, working offline with cached data")
	case status.State == sync.StateFailed:
		color.Red("Sync did not complete")
	default:
		color.Green("Sync completed in %s", elapsed.Round(time.Millisecond))
	}

	utils.PrintKeyValue("Models", fmt.Sprintf("%d of %d", status.ModelsDone, status.ModelsTotal))
	utils.PrintKeyValue("Records", fmt.Sprintf("%d of %d", status.RecordsSynced, status.TotalRecords))

	for _, syncErr := range status.Errors {
		if syncErr.Model != "" {
			utils.PrintWarning(fmt.Sprintf("%s: %s", syncErr.Model, syncErr.Message))
		} else {
			utils.PrintWarning(syncErr.Message)
		}
	}
}

func syncStatusAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	metadata, err := a.Store.ListSyncMetadata(c.Context)
	if err != nil {
		return fmt.Errorf("listing sync metadata: %w", err)
	}

	if len(metadata) == 0 {
		utils.PrintInfo("No models have been synced yet")
	} else {
		rows := make([][]string, 0, len(metadata))
		for _, meta := range metadata {
			watermark := "-"
			if meta.LastSyncWriteDate != nil {
				watermark = meta.LastSyncWriteDate.UTC().Format(time.RFC3339)
			}
			lastError := meta.LastError
			if lastError == "" {
				lastError = "-"
			}
			rows = append(rows, []string{
				meta.Model,
				meta.LastSyncTimestamp.UTC().Format(time.RFC3339),
				watermark,
				fmt.Sprintf("%d", meta.TotalRecords),
				lastError,
			})
		}
		utils.PrintTable(
			[]string{"Model", "Last Sync", "Watermark", "Records", "Last Error"},
			rows,
			utils.TableOptions{Title: "Synced Models"},
		)
	}

	logs, err := a.SyncLogs.ListLogs(c.Context, 10)
	if err != nil {
		return fmt.Errorf("listing sync logs: %w", err)
	}
	if len(logs) > 0 {
		rows := make([][]string, 0, len(logs))
		for _, log := range logs {
			outcome := color.GreenString("ok")
			if !log.Success {
				outcome = color.RedString("failed")
			}
			detail := log.ErrorMessage
			if detail == "" {
				detail = "-"
			}
			rows = append(rows, []string{
				log.CompletedAt.UTC().Format(time.RFC3339),
				string(log.TriggerType),
				outcome,
				fmt.Sprintf("%d", log.RecordsSynced),
				detail,
			})
		}
		utils.PrintTable(
			[]string{"Completed", "Trigger", "Outcome", "Records", "Detail"},
			rows,
			utils.TableOptions{Title: "Recent Runs"},
		)
	}

	return nil
}

func syncConfigAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	update := sync.SyncSettingsUpdate{}
	changed := false

	if c.IsSet("window") {
		window := c.Duration("window")
		update.Window = &window
		changed = true
	}
	if c.IsSet("policy") {
		policy := conflict.Policy(c.String("policy"))
		update.Policy = &policy
		changed = true
	}
	if modelWindows := c.StringSlice("model-window"); len(modelWindows) > 0 {
		update.ModelWindows = make(map[string]time.Duration)
		for _, entry := range modelWindows {
			model, raw, ok := strings.Cut(entry, "=")
			if !ok {
				return fmt.Errorf("invalid model-window %q, expected model=duration", entry)
			}
			window, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("invalid duration in %q: %w", entry, err)
			}
			update.ModelWindows[model] = window
		}
		changed = true
	}
	if syncAll := c.StringSlice("sync-all"); len(syncAll) > 0 {
		update.SyncAll = make(map[string]bool)
		for _, model := range syncAll {
			update.SyncAll[model] = true
		}
		changed = true
	}

	var settings *sync.SyncSettings
	if changed {
		settings, err = a.Settings.Update(c.Context, update)
		if err != nil {
			return err
		}
		utils.PrintSuccess("Sync settings updated")
	} else {
		settings, err = a.Settings.Load(c.Context)
		if err != nil {
			return err
		}
	}

	utils.PrintHeading("Sync settings")
	window := settings.Window.String()
	if settings.Window == 0 {
		window = "all"
	}
	utils.PrintKeyValue("Window", window)
	utils.PrintKeyValue("Conflict policy", string(settings.Policy))
	for model, w := range settings.ModelWindows {
		utils.PrintKeyValue("Window for "+model, w.String())
	}
	for model, all := range settings.SyncAll {
		if all {
			utils.PrintKeyValue("Sync all for "+model, "true")
		}
	}
	return nil
}
