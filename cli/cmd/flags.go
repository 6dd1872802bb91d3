// Package cmd provides CLI commands for the pcapbus binary.
package cmd

import "github.com/urfave/cli/v2"

// Global flags. They override the matching config file values.
var (
	// ConfigFlag points at the YAML config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML config file",
		EnvVars: []string{"PCAPBUS_CONFIG"},
	}

	// BusFlag selects the bus: nats, redis, memory.
	BusFlag = &cli.StringFlag{
		Name:    "bus",
		Usage:   "Message bus: nats, redis, memory",
		EnvVars: []string{"PCAPBUS_BUS"},
	}

	// URLFlag is the broker endpoint.
	URLFlag = &cli.StringFlag{
		Name:    "url",
		Usage:   "Broker URL (e.g. nats://localhost:4222, redis://localhost:6379)",
		EnvVars: []string{"PCAPBUS_URL"},
	}

	// LogLevelFlag sets the log level: debug, info, warn, error.
	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level: debug, info, warn, error (default warn)",
		EnvVars: []string{"PCAPBUS_LOG_LEVEL"},
	}
)

// Output flags shared by every command that renders a result.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored table output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// GlobalFlags returns the application-level flags.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		BusFlag,
		URLFlag,
		LogLevelFlag,
	}
}

// OutputFlags returns the flags for rendered output.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}
