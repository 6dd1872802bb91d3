package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/AlibekovAA/NATS/app"
	"github.com/AlibekovAA/NATS/archive"
	"github.com/AlibekovAA/NATS/cli/render"
	"github.com/AlibekovAA/NATS/cli/tui"
	"github.com/AlibekovAA/NATS/metrics"
	"github.com/AlibekovAA/NATS/transfer"
	"github.com/AlibekovAA/NATS/types"
)

// AnalyzeReport is the rendered result of one analyze run.
type AnalyzeReport struct {
	SessionID   string                `json:"session_id" yaml:"session_id"`
	File        string                `json:"file" yaml:"file"`
	Outcome     string                `json:"outcome" yaml:"outcome"`
	ErrorKind   string                `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error       string                `json:"error,omitempty" yaml:"error,omitempty"`
	Encoding    string                `json:"encoding" yaml:"encoding"`
	TotalChunks int                   `json:"total_chunks" yaml:"total_chunks"`
	Bytes       int                   `json:"bytes" yaml:"bytes"`
	DurationMs  int64                 `json:"duration_ms" yaml:"duration_ms"`
	PacketCount int                   `json:"packet_count" yaml:"packet_count"`
	Packets     []types.NetworkPacket `json:"packets,omitempty" yaml:"packets,omitempty" table:"-"`
	Summary     map[string]any        `json:"summary,omitempty" yaml:"summary,omitempty" table:"-"`
	Archive     *archive.Saved        `json:"archive,omitempty" yaml:"archive,omitempty" table:"-"`
	Stats       *metrics.Snapshot     `json:"stats,omitempty" yaml:"stats,omitempty" table:"-"`
}

// TableSections implements render.Tabular.
func (r *AnalyzeReport) TableSections() []render.Section {
	sections := []render.Section{{Title: "Session", Data: r}}
	if len(r.Summary) > 0 {
		sections = append(sections, render.Section{Title: "Summary", Data: r.Summary})
	}
	if len(r.Packets) > 0 {
		sections = append(sections, render.Section{Title: "Packets", Data: r.Packets})
	}
	if r.Archive != nil {
		sections = append(sections, render.Section{Title: "Archive", Data: r.Archive})
	}
	if r.Stats != nil {
		sections = append(sections, render.Section{Title: "Stats", Data: r.Stats})
	}
	return sections
}

var _ render.Tabular = (*AnalyzeReport)(nil)

// AnalyzeCommand returns the analyze command.
func AnalyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Transfer a capture file to the worker and render its analysis",
		ArgsUsage: "FILE",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "encoding",
				Aliases: []string{"e"},
				Usage:   "Chunk payload encoding: hex, base64",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Raw bytes per chunk (default 262144)",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Chunks in flight (default 4)",
			},
			&cli.DurationFlag{
				Name:  "chunk-timeout",
				Usage: "Per-chunk request timeout (default 30s)",
			},
			&cli.DurationFlag{
				Name:  "finish-timeout",
				Usage: "Finish request timeout (default 60s)",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "Show a live progress view on stderr",
			},
			&cli.BoolFlag{
				Name:  "archive",
				Usage: "Archive the capture and result (requires archive config)",
			},
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "Include transfer counters in the output",
			},
		}, OutputFlags()...),
		Action: analyzeAction,
	}
}

func analyzeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("analyze requires exactly one capture file", exitValidation)
	}
	path := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitValidation)
	}

	var enc types.Encoding
	if s := c.String("encoding"); s != "" {
		if enc, err = types.ParseEncoding(s); err != nil {
			return cli.Exit(err.Error(), exitValidation)
		}
	}
	if c.Int("chunk-size") < 0 || c.Int("concurrency") < 0 {
		return cli.Exit("--chunk-size and --concurrency must be positive", exitValidation)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read capture: %v", err), exitValidation)
	}

	a, err := openApp(c)
	if err != nil {
		return exitError(err)
	}
	defer func() { _ = a.Close() }()

	if c.Bool("archive") && a.Archive == nil {
		return cli.Exit("--archive requires archive.backend in the config file", exitValidation)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := app.AnalyzeOptions{
		Encoding: enc,
		Archive:  c.Bool("archive"),
		Override: transferOverrides(c),
	}

	var progress *tui.Progress
	if c.Bool("progress") {
		var in io.Reader
		if render.IsTTY(os.Stdin) {
			in = os.Stdin
		}
		progress = tui.StartProgress(errWriter(c), in, filepath.Base(path), cancel)
		opts.Observer = progress.Observer()
	}

	out, runErr := a.Analyze(ctx, raw, opts)
	if progress != nil {
		if err := progress.Finish(out.Session, out.Result); err != nil {
			a.Logger.Warn("progress view failed", map[string]any{"error": err.Error()})
		}
	}
	if out.Session == nil {
		return exitError(runErr)
	}

	report := newAnalyzeReport(path, out)
	if c.Bool("stats") {
		snap := a.Metrics.Snapshot()
		report.Stats = &snap
	}
	if err := r.Render(report); err != nil {
		return err
	}
	return exitError(runErr)
}

// transferOverrides applies the per-run transfer flags.
func transferOverrides(c *cli.Context) func(*transfer.Config) {
	return func(cfg *transfer.Config) {
		if c.IsSet("chunk-size") {
			cfg.ChunkSize = c.Int("chunk-size")
		}
		if c.IsSet("concurrency") {
			cfg.Concurrency = c.Int("concurrency")
		}
		if c.IsSet("chunk-timeout") {
			cfg.ChunkTimeout = c.Duration("chunk-timeout")
		}
		if c.IsSet("finish-timeout") {
			cfg.FinishTimeout = c.Duration("finish-timeout")
		}
	}
}

func newAnalyzeReport(path string, out *app.Outcome) *AnalyzeReport {
	ev := out.Event
	report := &AnalyzeReport{
		SessionID:   ev.SessionID,
		File:        path,
		Outcome:     ev.Outcome,
		ErrorKind:   ev.ErrorKind,
		Error:       ev.Error,
		Encoding:    string(out.Session.Encoding),
		TotalChunks: ev.TotalChunks,
		Bytes:       ev.Bytes,
		DurationMs:  ev.DurationMs,
		PacketCount: ev.PacketCount,
		Archive:     out.Saved,
	}
	if out.Result != nil {
		report.Packets = out.Result.Packets
		report.Summary = out.Result.Summary
	}
	return report
}
