package main

import (
	"os"

	"github.com/splitclass/splitclass/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
