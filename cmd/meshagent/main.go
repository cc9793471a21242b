package main

import (
	"os"

	"github.com/harun/meshagent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
