package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/odoosync/internal/app"
	"github.com/tildaslashalef/odoosync/internal/queue"
	"github.com/tildaslashalef/odoosync/internal/utils"
)

// QueueCommand returns the CLI command for the offline mutation queue
func QueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect and replay the offline mutation queue",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List queued mutations",
				Action: queueListAction,
			},
			{
				Name:        "replay",
				Usage:       "Replay queued mutations against the server",
				Description: "Pushes queued creates, updates and deletes in creation order",
				Action:      queueReplayAction,
			},
			{
				Name:        "add",
				Usage:       "Queue a mutation",
				Description: "Queues a local edit for replay, e.g. queue add --model res.partner --record 42 --op update --data '{\"phone\":\"+100\"}'",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "model", Required: true, Usage: "Target model"},
					&cli.Int64Flag{Name: "record", Usage: "Target record id (not used for create)"},
					&cli.StringFlag{Name: "op", Required: true, Usage: "create, update or delete"},
					&cli.StringFlag{Name: "data", Usage: "JSON payload for create/update"},
				},
				Action: queueAddAction,
			},
		},
	}
}

func queueListAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	pending, err := a.Queue.Pending(c.Context)
	if err != nil {
		return fmt.Errorf("listing queue: %w", err)
	}
	if len(pending) == 0 {
		utils.PrintInfo("The offline queue is empty")
		return nil
	}

	rows := make([][]string, 0, len(pending))
	for _, m := range pending {
		payload := "-"
		if len(m.Payload) > 0 {
			if raw, err := json.Marshal(m.Payload); err == nil {
				payload = string(raw)
			}
		}
		rows = append(rows, []string{
			m.ID,
			m.Model,
			fmt.Sprintf("%d", m.RecordID),
			string(m.Operation),
			m.CreatedAt.UTC().Format(time.RFC3339),
			fmt.Sprintf("%d", m.RetryCount),
			payload,
		})
	}
	utils.PrintTable(
		[]string{"ID", "Model", "Record", "Operation", "Created", "Retries", "Payload"},
		rows,
		utils.TableOptions{Title: "Pending Mutations"},
	)
	return nil
}

func queueReplayAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	result, err := a.Queue.DrainAndReplay(c.Context)
	if err != nil {
		utils.PrintError(fmt.Sprintf("Replay aborted: %s", err))
		return err
	}

	if result.Replayed > 0 {
		color.Green("Replayed %d mutation(s)", result.Replayed)
	}
	if result.Failed > 0 {
		color.Red("%d mutation(s) failed terminally", result.Failed)
	}
	if result.Skipped > 0 {
		color.Yellow("%d mutation(s) deferred to the next replay", result.Skipped)
	}
	if result.Replayed+result.Failed+result.Skipped == 0 {
		utils.PrintInfo("Nothing to replay")
	}
	return nil
}

func queueAddAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	op := queue.Operation(c.String("op"))
	switch op {
	case queue.OpCreate, queue.OpUpdate, queue.OpDelete:
	default:
		return fmt.Errorf("unknown operation %q", c.String("op"))
	}

	var payload map[string]any
	if data := c.String("data"); data != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return fmt.Errorf("invalid payload JSON: %w", err)
		}
	}
	if op != queue.OpDelete && len(payload) == 0 {
		return fmt.Errorf("a JSON payload is required for %s", op)
	}

	m := queue.NewMutation(c.String("model"), c.Int64("record"), op, payload)
	if err := a.Queue.Enqueue(c.Context, m); err != nil {
		return err
	}
	utils.PrintSuccess(fmt.Sprintf("Queued %s %s (%s)", op, c.String("model"), m.ID))
	return nil
}
