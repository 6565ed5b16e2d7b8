// Package main provides the entry point for the winx CLI.
package main

import (
	"fmt"
	"os"

	"github.com/rokytory/winx-code-agent/cmd/winx/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
