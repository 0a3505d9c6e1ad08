// Package main provides the entry point for the sessionlens CLI.
package main

import (
	"os"

	"github.com/sessionlens/sessionlens/cmd/sessionlens/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
