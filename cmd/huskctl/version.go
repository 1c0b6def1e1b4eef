package main

import (
	"fmt"

	"github.com/danmuck/husk/internal/cli"
)

// Overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0-dev"

func newVersionCommand() *cli.Command {
	return &cli.Command{
		Name:        "version",
		Description: "print the huskctl version",
		Run: func(args []string) error {
			fmt.Printf("huskctl %s\n", version)
			return nil
		},
	}
}
