package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/AlibekovAA/NATS/app"
	"github.com/AlibekovAA/NATS/cli/config"
	"github.com/AlibekovAA/NATS/log"
	"github.com/AlibekovAA/NATS/types"
)

// Exit codes:
//   - 0: success
//   - 1: remote error reported by the worker, or an unexpected failure
//   - 2: connection or timeout failure
//   - 3: validation failure (bad input, flags or config)
//   - 4: malformed reply from the worker
const (
	exitSuccess    = 0
	exitRemote     = 1
	exitConnection = 2
	exitValidation = 3
	exitDecode     = 4
)

// defaultLogLevel keeps the CLI quiet unless asked.
const defaultLogLevel = "warn"

// NewApp returns the pcapbus application. The caller sets ExitErrHandler.
func NewApp(commit string) *cli.App {
	return &cli.App{
		Name:    "pcapbus",
		Usage:   "Send packet captures to an analysis worker over a message bus",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:   GlobalFlags(),
		Commands: []*cli.Command{
			AnalyzeCommand(),
			PingCommand(),
			HistoryCommand(),
			VersionCommand(commit),
		},
	}
}

// ExitCode maps an error onto the process exit code by its kind.
func ExitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	switch types.KindOf(err) {
	case types.KindConnection, types.KindTimeout:
		return exitConnection
	case types.KindValidation:
		return exitValidation
	case types.KindDecode:
		return exitDecode
	default:
		return exitRemote
	}
}

// exitError wraps err as a cli.ExitCoder carrying its exit code.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return err
	}
	return cli.Exit(err.Error(), ExitCode(err))
}

// loadConfig reads --config when set and applies the global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String(ConfigFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, types.NewError(types.ErrValidation, "config", "", err)
		}
		cfg = loaded
	}
	if c.IsSet(BusFlag.Name) {
		cfg.Bus.Type = c.String(BusFlag.Name)
	}
	if c.IsSet(URLFlag.Name) {
		cfg.Bus.URL = c.String(URLFlag.Name)
	}
	if c.IsSet(LogLevelFlag.Name) {
		cfg.Log.Level = c.String(LogLevelFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.NewError(types.ErrValidation, "config", "", err)
	}
	return cfg, nil
}

// newLogger builds the JSON logger on the app's error writer.
func newLogger(c *cli.Context, cfg *config.Config) (*log.Logger, error) {
	level := cfg.Log.Level
	if level == "" {
		level = defaultLogLevel
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "config", "", err)
	}
	return log.New(errWriter(c), lvl), nil
}

// openApp loads configuration and assembles the app context.
func openApp(c *cli.Context) (*app.Context, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(c, cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.New(c.Context, cfg, logger)
	if err != nil {
		if types.KindOf(err) == types.KindUnknown {
			err = types.NewError(types.ErrValidation, "setup", "", err)
		}
		return nil, err
	}
	return a, nil
}

func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}
