package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/AlibekovAA/NATS/app"
	"github.com/AlibekovAA/NATS/cli/render"
)

// PingReport describes one connectivity check.
type PingReport struct {
	Bus        string `json:"bus" yaml:"bus"`
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	Connected  bool   `json:"connected" yaml:"connected"`
	Phase      string `json:"phase" yaml:"phase"`
	RetryCount int    `json:"retry_count" yaml:"retry_count"`
	LatencyMs  int64  `json:"latency_ms" yaml:"latency_ms"`
	MaxPayload int64  `json:"max_payload,omitempty" yaml:"max_payload,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// PingCommand returns the ping command.
func PingCommand() *cli.Command {
	return &cli.Command{
		Name:   "ping",
		Usage:  "Connect to the bus and report the connection state",
		Flags:  OutputFlags(),
		Action: pingAction,
	}
}

func pingAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitValidation)
	}

	a, err := openApp(c)
	if err != nil {
		return exitError(err)
	}
	defer func() { _ = a.Close() }()

	busType, _ := app.BusEndpoint(a.Config.Bus)
	start := time.Now()
	connErr := a.Connect(c.Context)
	state := a.Manager.State()

	report := PingReport{
		Bus:        busType,
		Endpoint:   state.Endpoint,
		Connected:  state.Connected,
		Phase:      string(state.Phase),
		RetryCount: state.RetryCount,
		LatencyMs:  time.Since(start).Milliseconds(),
		MaxPayload: a.Transport.MaxPayload(),
	}
	if connErr != nil {
		report.Error = connErr.Error()
	}
	if err := r.Render(report); err != nil {
		return err
	}
	return exitError(connErr)
}
