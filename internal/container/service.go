package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/husk/internal/network"
	"github.com/danmuck/husk/internal/rpc"
	"github.com/danmuck/husk/internal/runtime"
)

// ServiceConfig describes the manager's listening socket and policy.
type ServiceConfig struct {
	SocketPath string
	// Privileged records whether containers may keep host uids. The
	// backend decides what to do with it.
	Privileged bool
}

// Service is the manager side of the container socket: it vets peers,
// decodes start/stop commands, and drives the Backend.
type Service struct {
	cfg     ServiceConfig
	backend Backend
	rt      *runtime.Runtime

	connector *network.PublishedSocketConnector
	creator   *rpc.ConnectionCreator
}

func NewService(cfg ServiceConfig, backend Backend, rt *runtime.Runtime) *Service {
	if backend == nil {
		backend = NewNullBackend()
	}
	return &Service{cfg: cfg, backend: backend, rt: rt}
}

// Start publishes the manager socket and begins serving commands.
func (s *Service) Start() error {
	s.creator = rpc.NewConnectionCreator(rpc.CreatorConfig{
		Channel: "container",
		Runtime: s.rt,
		Gate:    GatePeer,
		Factory: func(ch *rpc.Channel) rpc.Handler {
			return rpc.HandlerFunc(s.handleCall)
		},
	})

	connector, err := network.Publish(s.cfg.SocketPath, "container", s.rt, s.creator)
	if err != nil {
		return fmt.Errorf("container: publish manager socket: %w", err)
	}
	s.connector = connector
	log.Info().Str("path", s.cfg.SocketPath).Bool("privileged", s.cfg.Privileged).Msg("container.service listening")
	return nil
}

func (s *Service) handleCall(ctx context.Context, method uint32, payload []byte) ([]byte, error) {
	switch method {
	case MethodStartContainer:
		cfg, err := DecodeConfiguration(payload)
		if err != nil {
			return nil, err
		}
		log.Info().Str("session", cfg.SessionID).Int("mounts", len(cfg.BindMounts)).Msg("container.service start requested")
		if err := s.backend.Start(cfg); err != nil {
			return nil, err
		}
		return nil, nil
	case MethodStopContainer:
		log.Info().Msg("container.service stop requested")
		if err := s.backend.Stop(); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("container: unknown method %d", method)
	}
}

// Stop tears the service down: running containers stop, client
// connections drop, the socket file goes away.
func (s *Service) Stop() error {
	if err := s.backend.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		log.Error().Err(err).Msg("container.service backend stop failed")
	}
	if s.creator != nil {
		_ = s.creator.Close()
	}
	if s.connector != nil {
		return s.connector.Close()
	}
	return nil
}
