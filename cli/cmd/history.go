package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/AlibekovAA/NATS/adapter"
	"github.com/AlibekovAA/NATS/archive"
	"github.com/AlibekovAA/NATS/cli/render"
)

// HistoryCommand returns the history command.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded sessions from the ledger",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "day",
				Usage: "Only sessions from this UTC day (YYYY-MM-DD)",
			},
			&cli.StringFlag{
				Name:  "outcome",
				Usage: "Only sessions with this outcome: success, failure",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of sessions (0 = all)",
			},
		}, OutputFlags()...),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitValidation)
	}

	filter, err := historyFilter(c)
	if err != nil {
		return cli.Exit(err.Error(), exitValidation)
	}

	a, err := openApp(c)
	if err != nil {
		return exitError(err)
	}
	defer func() { _ = a.Close() }()

	records, err := a.History(c.Context, filter)
	if err != nil {
		return exitError(err)
	}
	if records == nil {
		records = []archive.SessionRecord{}
	}
	return r.Render(records)
}

func historyFilter(c *cli.Context) (archive.HistoryFilter, error) {
	f := archive.HistoryFilter{
		Day:     c.String("day"),
		Outcome: c.String("outcome"),
		Limit:   c.Int("limit"),
	}
	if f.Day != "" {
		if _, err := time.Parse(time.DateOnly, f.Day); err != nil {
			return f, fmt.Errorf("invalid --day %q (want YYYY-MM-DD)", f.Day)
		}
	}
	switch f.Outcome {
	case "", adapter.OutcomeSuccess, adapter.OutcomeFailure:
	default:
		return f, fmt.Errorf("invalid --outcome %q (must be success or failure)", f.Outcome)
	}
	if f.Limit < 0 {
		return f, fmt.Errorf("--limit must not be negative")
	}
	return f, nil
}
