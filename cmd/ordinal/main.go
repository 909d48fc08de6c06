package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fluvius-io/ordinal/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// ExitError means the command already rendered structured
		// output; anything else still needs a message.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
