// Command karmad runs the Karma ledger service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/R3E-Network/karma_ledger/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
