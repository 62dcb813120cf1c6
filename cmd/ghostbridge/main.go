// Command ghostbridge runs the bridge, the reference authority and the
// scenario tooling.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ghostbridge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
