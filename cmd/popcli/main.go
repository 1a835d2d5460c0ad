// popcli is the Perimeter client CLI: it manages device keys, registers
// them with a Perimeter server, and makes proof-bound API calls.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/gobeyondidentity/perimeter/cmd/popcli/cmd"
	"github.com/gobeyondidentity/perimeter/pkg/clierror"
)

func main() {
	if err := cmd.Execute(); err != nil {
		var cliErr *clierror.CLIError
		if errors.As(err, &cliErr) {
			clierror.PrintError(cliErr, cmd.OutputFormat())
			os.Exit(cliErr.ExitCode)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(clierror.ExitGeneral)
	}
}
