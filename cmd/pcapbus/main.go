// Package main provides the pcapbus CLI entrypoint.
//
// Usage:
//
//	pcapbus [global options] <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: worker reported an error, or an unexpected failure
//   - 2: bus connection or request timeout
//   - 3: invalid input, flags or config
//   - 4: malformed worker reply
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/AlibekovAA/NATS/cli/cmd"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := cmd.NewApp(commit)
	app.ExitErrHandler = exitErrHandler

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler prints the error and exits with the code it carries.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitMessage(exitCoder); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// exitMessage returns the printable message of an ExitCoder, or "" when it
// only carries a code.
func exitMessage(ec cli.ExitCoder) string {
	msg := ec.Error()
	if msg == fmt.Sprintf("exit status %d", ec.ExitCode()) {
		return ""
	}
	return msg
}
