package main

import (
	"fmt"

	"github.com/danmuck/husk/internal/cli"
	"github.com/danmuck/husk/internal/config"
)

func newConfigTemplateCommand() *cli.Command {
	fs := cli.NewFlagSet("config-template")
	output := fs.String("output", "husk.toml", "output path for the config template")
	force := fs.Bool("force", false, "overwrite an existing config file")
	validate := fs.Bool("validate", false, "validate an existing config file instead of writing one")
	input := fs.String("input", "", "config path for validation (defaults to --output)")

	return &cli.Command{
		Name:        "config-template",
		Description: "write or validate a huskctl config file",
		Flags:       fs,
		Run: func(args []string) error {
			if *validate {
				path := *input
				if path == "" {
					path = *output
				}
				if _, err := config.Load(path); err != nil {
					return err
				}
				fmt.Printf("validated config at %s\n", path)
				return nil
			}

			if err := config.WriteTemplate(*output, *force); err != nil {
				return err
			}
			fmt.Printf("wrote config template to %s\n", *output)
			return nil
		},
	}
}
