// Package main is the sqlscope entry point.
package main

import (
	"os"

	"github.com/leapstack-labs/sqlscope/internal/cli"
)

func main() {
	// Execute reports the error itself; the exit code is all that is left.
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
