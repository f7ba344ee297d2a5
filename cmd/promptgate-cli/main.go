package main

import (
	"os"

	"github.com/promptgate/promptgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
