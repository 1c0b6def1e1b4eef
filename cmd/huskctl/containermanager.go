package main

import (
	"github.com/danmuck/husk/internal/cli"
	"github.com/danmuck/husk/internal/container"
	"github.com/danmuck/husk/internal/runtime"
	"github.com/danmuck/husk/internal/session"
)

func newContainerManagerCommand() *cli.Command {
	fs := cli.NewFlagSet("container-manager")
	configPath := fs.String("config", "", "TOML config overlay path")
	privileged := fs.Bool("privileged", false, "allow containers to keep host uids")
	debugAddr := fs.String("debug-addr", "", "serve /healthz and /metrics on this address")

	return &cli.Command{
		Name:        "container-manager",
		Description: "serve container start/stop requests on the manager socket",
		Flags:       fs,
		Run: func(args []string) error {
			sys, err := loadSystem(*configPath)
			if err != nil {
				return err
			}
			if *debugAddr != "" {
				sys.DebugListenAddr = *debugAddr
			}
			if err := sys.EnsureDirs(); err != nil {
				return err
			}

			stopDebug, err := startDebugServer(sys.DebugListenAddr)
			if err != nil {
				return err
			}
			defer stopDebug()

			rt := runtime.New(sys.Workers)
			if err := rt.Start(); err != nil {
				return err
			}

			svc := container.NewService(container.ServiceConfig{
				SocketPath: sys.ContainerSocketPath(),
				Privileged: *privileged,
			}, container.NewNullBackend(), rt)
			if err := svc.Start(); err != nil {
				rt.Stop(sys.ShutdownGrace)
				return err
			}

			trap := session.NewTrap()
			<-trap.Done()

			if err := svc.Stop(); err != nil {
				rt.Stop(sys.ShutdownGrace)
				return err
			}
			return rt.Stop(sys.ShutdownGrace)
		},
	}
}
