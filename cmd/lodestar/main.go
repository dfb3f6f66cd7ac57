package main

import (
	"os"

	"github.com/lodestar-io/lodestar/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
