package main

import (
	"os"

	"github.com/movpey/movpey/cmd/movpey/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
