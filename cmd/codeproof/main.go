// Package main is the entry point for the codeproof CLI.
package main

import (
	"os"

	"github.com/pendergraft/codeproof/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
