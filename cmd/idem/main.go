// Command idem runs operations at most once per logical request.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/idem/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "idem: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
