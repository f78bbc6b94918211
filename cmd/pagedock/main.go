package main

import (
	"os"

	"github.com/pagedock/pagedock/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
