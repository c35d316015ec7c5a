// Package main provides the entry point for the oi CLI.
package main

import (
	"errors"
	"os"

	"github.com/oi-sh/oi/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		if errors.Is(err, cli.ErrPartialFailure) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
