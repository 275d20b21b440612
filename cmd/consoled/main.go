package main

import (
	"os"

	"github.com/ucpcloud/consoled/cmd/consoled/command"
)

func main() {
	if err := command.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
