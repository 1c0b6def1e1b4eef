package main

import (
	"fmt"
	"os"

	"github.com/danmuck/husk/internal/cli"
	"github.com/danmuck/husk/internal/config"
	"github.com/danmuck/husk/internal/observability"
)

func main() {
	observability.InitLogger("huskctl")

	if err := newRoot().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "huskctl: %v\n", err)
		os.Exit(1)
	}
}

func newRoot() *cli.Root {
	root := cli.NewRoot("huskctl", "containerized guest session host")
	root.Default = "session-manager"
	root.Register(newSessionManagerCommand())
	root.Register(newContainerManagerCommand())
	root.Register(newConfigTemplateCommand())
	root.Register(newVersionCommand())
	return root
}

func loadSystem(path string) (config.System, error) {
	if path == "" {
		sys := config.Default()
		return sys, sys.Validate()
	}
	return config.Load(path)
}
