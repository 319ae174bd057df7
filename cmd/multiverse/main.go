// Command multiverse runs the branching multiverse simulator: an HTTP
// service plus offline commands against the same store.
package main

import (
	"fmt"
	"os"

	"github.com/GrigorianNick/multiverse-simulator/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	if err := cmd.Execute(); err != nil {
		// Commands that report through the formatter have already printed.
		if !cli.IsReported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
