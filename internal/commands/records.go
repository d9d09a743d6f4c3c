package commands

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/odoosync/internal/app"
	"github.com/tildaslashalef/odoosync/internal/utils"
)

// RecordsCommand returns the CLI command for reading cached records
func RecordsCommand() *cli.Command {
	return &cli.Command{
		Name:        "records",
		Usage:       "Read locally cached records",
		Description: "Lists records from the local store, most recently changed first. Works offline.",
		ArgsUsage:   "<model>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of records to show",
				Value: 20,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of records to skip",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print raw JSON instead of a table",
			},
		},
		Action: recordsAction,
	}
}

func recordsAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	model := c.Args().First()
	if model == "" {
		return fmt.Errorf("model name is required, e.g. 'odoosync records res.partner'")
	}

	total, err := a.Store.CountRecords(c.Context, model)
	if err != nil {
		return fmt.Errorf("counting %s records: %w", model, err)
	}
	if total == 0 {
		utils.PrintInfo(fmt.Sprintf("No cached records for %s, run a sync first", model))
		return nil
	}

	records, err := a.Store.GetRecords(c.Context, model, c.Int("limit"), c.Int("offset"))
	if err != nil {
		return fmt.Errorf("reading %s records: %w", model, err)
	}

	if c.Bool("json") {
		encoder := json.NewEncoder(c.App.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		name, _ := rec["name"].(string)
		if name == "" {
			if dn, ok := rec["display_name"].(string); ok {
				name = dn
			}
		}
		writeDate, _ := rec["write_date"].(string)
		rows = append(rows, []string{
			fmt.Sprintf("%d", rec.ID()),
			name,
			writeDate,
		})
	}
	utils.PrintTable(
		[]string{"ID", "Name", "Write Date"},
		rows,
		utils.TableOptions{Title: fmt.Sprintf("%s (%d of %d)", model, len(records), total)},
	)
	return nil
}
