package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/husk/internal/cli"
	"github.com/danmuck/husk/internal/observability"
	"github.com/danmuck/husk/internal/session"
)

func newSessionManagerCommand() *cli.Command {
	fs := cli.NewFlagSet("session-manager")
	configPath := fs.String("config", "", "TOML config overlay path")
	debugAddr := fs.String("debug-addr", "", "serve /healthz and /metrics on this address")

	return &cli.Command{
		Name:        "session-manager",
		Description: "publish host sockets and drive one guest session",
		Flags:       fs,
		Run: func(args []string) error {
			sys, err := loadSystem(*configPath)
			if err != nil {
				return err
			}
			if *debugAddr != "" {
				sys.DebugListenAddr = *debugAddr
			}

			stopDebug, err := startDebugServer(sys.DebugListenAddr)
			if err != nil {
				return err
			}
			defer stopDebug()

			o := session.NewOrchestrator(session.OrchestratorConfig{System: sys})
			return o.Run(context.Background())
		},
	}
}

func startDebugServer(addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	observability.RegisterMetrics()
	srv := observability.NewDebugServer(addr)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	log.Info().Str("addr", srv.Addr()).Msg("huskctl debug endpoint up")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
