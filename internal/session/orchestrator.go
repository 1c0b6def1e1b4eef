package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/husk/internal/bridge"
	"github.com/danmuck/husk/internal/config"
	"github.com/danmuck/husk/internal/container"
	"github.com/danmuck/husk/internal/graphics"
	"github.com/danmuck/husk/internal/network"
	"github.com/danmuck/husk/internal/rpc"
	"github.com/danmuck/husk/internal/runtime"
)

var ErrLifecycleOrder = errors.New("session: invalid lifecycle transition")

// Phase names one step of the session lifecycle.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseValidating        Phase = "validating"
	PhasePublishing        Phase = "publishing"
	PhaseStartingContainer Phase = "starting_container"
	PhaseRunning           Phase = "running"
	PhaseShuttingDown      Phase = "shutting_down"
	PhaseStopped           Phase = "stopped"
)

// OrchestratorConfig carries the session's collaborators. Zero-value
// fields get working defaults: LogPlatform, DiscardRenderer, a fresh
// signal Trap.
type OrchestratorConfig struct {
	System   config.System
	Platform bridge.Platform
	Renderer graphics.Renderer
	Trap     *Trap
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	Phase          Phase
	SessionID      string
	Sockets        []string
	GuestConnected bool
}

// Orchestrator owns one guest session end to end: it validates the host,
// publishes the per-purpose sockets, asks the container manager to start
// the guest, and tears everything down in reverse on shutdown.
type Orchestrator struct {
	cfg  OrchestratorConfig
	trap *Trap

	mu        sync.Mutex
	phase     Phase
	sessionID string

	rt         *runtime.Runtime
	dispatcher *runtime.Dispatcher

	skeleton *bridge.Skeleton
	stub     *bridge.HostStub

	bridgeCreator *rpc.ConnectionCreator
	pipeCreator   *graphics.PipeConnectionCreator

	connectors []*network.PublishedSocketConnector

	client *container.Client
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Platform == nil {
		cfg.Platform = bridge.LogPlatform{}
	}
	if cfg.Renderer == nil {
		cfg.Renderer = graphics.DiscardRenderer{}
	}
	trap := cfg.Trap
	if trap == nil {
		trap = NewTrap()
	}
	return &Orchestrator{
		cfg:   cfg,
		trap:  trap,
		phase: PhaseIdle,
	}
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Status snapshots the session for debug surfaces.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		Phase:     o.phase,
		SessionID: o.sessionID,
	}
	for _, c := range o.connectors {
		st.Sockets = append(st.Sockets, c.SocketFile())
	}
	if o.stub != nil {
		st.GuestConnected = o.stub.Connected()
	}
	return st
}

// Trap exposes the shutdown edge so callers can stop the session.
func (o *Orchestrator) Trap() *Trap {
	return o.trap
}

func (o *Orchestrator) advance(from, to Phase) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != from {
		return transitionError(o.phase, to)
	}
	o.phase = to
	log.Info().Str("from", string(from)).Str("to", string(to)).Msg("session.orchestrator phase")
	return nil
}

// halt marks the terminal phase after a startup failure, whatever phase
// the failure happened in.
func (o *Orchestrator) halt() {
	o.mu.Lock()
	o.phase = PhaseStopped
	o.mu.Unlock()
}

// Run drives the session until the trap fires or startup fails. A clean
// signal-driven shutdown returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.advance(PhaseIdle, PhaseValidating); err != nil {
		return err
	}
	if err := o.validate(); err != nil {
		o.halt()
		return err
	}

	if err := o.cfg.System.EnsureDirs(); err != nil {
		o.halt()
		return err
	}
	o.rt = runtime.New(o.cfg.System.Workers)
	if err := o.rt.Start(); err != nil {
		o.halt()
		return err
	}
	o.dispatcher = runtime.NewDispatcher(o.rt)

	if err := o.advance(PhaseValidating, PhasePublishing); err != nil {
		o.teardown()
		o.halt()
		return err
	}
	if err := o.publish(); err != nil {
		o.teardown()
		o.halt()
		return err
	}

	cfg := o.buildContainerConfiguration()

	if err := o.advance(PhasePublishing, PhaseStartingContainer); err != nil {
		o.teardown()
		o.halt()
		return err
	}
	if err := o.startContainer(ctx, cfg); err != nil {
		o.teardown()
		o.halt()
		return err
	}

	if err := o.advance(PhaseStartingContainer, PhaseRunning); err != nil {
		o.teardown()
		o.halt()
		return err
	}
	log.Info().Str("session", cfg.SessionID).Msg("session.orchestrator running")

	select {
	case <-ctx.Done():
		o.trap.Stop("context: " + ctx.Err().Error())
	case <-o.trap.Done():
	}

	if err := o.advance(PhaseRunning, PhaseShuttingDown); err != nil {
		return err
	}
	o.teardown()
	if err := o.advance(PhaseShuttingDown, PhaseStopped); err != nil {
		return err
	}
	log.Info().Str("reason", o.trap.Reason()).Msg("session.orchestrator stopped")
	return nil
}

// validate checks the host before anything is created. A missing kernel
// facility is fatal here, not a degraded session later.
func (o *Orchestrator) validate() error {
	if err := o.cfg.System.Validate(); err != nil {
		return err
	}
	for _, dev := range o.cfg.System.RequiredDevices {
		if _, err := os.Stat(dev); err != nil {
			return fmt.Errorf("session: required device %s: %w", dev, err)
		}
	}
	graphics.ProbeDriver()
	return nil
}

func (o *Orchestrator) publish() error {
	sys := o.cfg.System

	o.skeleton = bridge.NewSkeleton(o.cfg.Platform)
	o.stub = bridge.NewHostStub()
	o.bridgeCreator = bridge.NewCreator(o.rt, o.skeleton, o.stub)
	if err := o.publishSocket(sys.BridgeSocketPath(), "bridge", o.bridgeCreator); err != nil {
		return err
	}

	o.pipeCreator = graphics.NewPipeConnectionCreator(o.rt, o.cfg.Renderer)
	if err := o.publishSocket(sys.PipeSocketPath(), "pipe", o.pipeCreator); err != nil {
		return err
	}

	// No audio protocol on the host side yet; guests connecting here get
	// an immediate close instead of a hang.
	if err := o.publishSocket(sys.AudioSocketPath(), "audio", network.NewNullConnectionCreator("audio")); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) publishSocket(path, channel string, creator network.ConnectionCreator) error {
	connector, err := network.Publish(path, channel, o.rt, creator)
	if err != nil {
		return fmt.Errorf("session: publish %s: %w", channel, err)
	}
	o.mu.Lock()
	o.connectors = append(o.connectors, connector)
	o.mu.Unlock()

	// A connector that can no longer accept makes the session non-viable.
	o.rt.Go("session.watch "+channel, func(ctx context.Context) {
		select {
		case err := <-connector.Err():
			log.Error().Str("channel", channel).Err(err).Msg("session.orchestrator socket failed")
			o.trap.Stop("socket " + channel + ": " + err.Error())
		case <-ctx.Done():
		}
	})
	return nil
}

// buildContainerConfiguration maps every published socket and passthrough
// device to its fixed guest path. The configuration is complete before the
// start request goes out.
func (o *Orchestrator) buildContainerConfiguration() container.Configuration {
	sys := o.cfg.System
	id := container.NewSessionID()

	o.mu.Lock()
	o.sessionID = id
	o.mu.Unlock()

	cfg := container.Configuration{
		SessionID: id,
		BindMounts: []container.BindMount{
			{Source: sys.BridgeSocketPath(), Target: "/dev/" + config.BridgeSocketName},
			{Source: sys.PipeSocketPath(), Target: "/dev/" + config.PipeSocketName},
			{Source: sys.AudioSocketPath(), Target: "/dev/" + config.AudioSocketName},
			{Source: sys.InputDeviceDir(), Target: "/dev/input"},
		},
	}
	for _, dev := range sys.PassthroughDevices {
		cfg.BindMounts = append(cfg.BindMounts, container.BindMount{Source: dev, Target: dev})
	}
	return cfg
}

func (o *Orchestrator) startContainer(ctx context.Context, cfg container.Configuration) error {
	sys := o.cfg.System

	clientCfg := container.DefaultClientConfig(sys.ContainerSocketPath())
	clientCfg.MaxAttempts = sys.ContainerDialAttempts
	if sys.ContainerDialBackoff > 0 {
		clientCfg.Backoff.InitialDelay = sys.ContainerDialBackoff
	}

	client, err := container.Dial(ctx, clientCfg, o.rt)
	if err != nil {
		return fmt.Errorf("session: container manager: %w", err)
	}
	o.client = client
	client.RegisterTerminateHandler(func() {
		o.trap.Stop("container connection lost")
	})

	// The start request is asynchronous: a failure surfaces through the
	// terminate handler, not this call path.
	o.dispatcher.Dispatch("container.start", func() {
		if err := client.StartContainer(o.rt.Context(), cfg); err != nil {
			log.Error().Err(err).Msg("session.orchestrator container start failed")
		}
	})
	return nil
}

// teardown closes in reverse construction order. Every component closes
// at most once, so teardown may run after a partial startup.
func (o *Orchestrator) teardown() {
	if o.client != nil {
		_ = o.client.Close()
	}
	o.mu.Lock()
	connectors := o.connectors
	o.connectors = nil
	o.mu.Unlock()
	for i := len(connectors) - 1; i >= 0; i-- {
		_ = connectors[i].Close()
	}
	if o.bridgeCreator != nil {
		_ = o.bridgeCreator.Close()
	}
	if o.pipeCreator != nil {
		_ = o.pipeCreator.Close()
	}
	if o.rt != nil {
		if err := o.rt.Stop(o.cfg.System.ShutdownGrace); err != nil {
			log.Warn().Err(err).Msg("session.orchestrator runtime stop")
		}
	}
}

func transitionError(from, to Phase) error {
	return fmt.Errorf("%w: %s -> %s", ErrLifecycleOrder, from, to)
}
