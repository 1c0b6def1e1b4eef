package container

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Backend runs the actual container. Namespace, cgroup, and rootfs
// mechanics live behind this boundary.
type Backend interface {
	Start(cfg Configuration) error
	Stop() error
}

// NullBackend accepts starts and stops without creating anything, keeping
// the manager protocol serviceable on hosts without a container runtime.
type NullBackend struct {
	mu      sync.Mutex
	running bool
	current Configuration
}

func NewNullBackend() *NullBackend {
	return &NullBackend{}
}

func (b *NullBackend) Start(cfg Configuration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("%w: session %s", ErrAlreadyRunning, b.current.SessionID)
	}
	for _, m := range cfg.BindMounts {
		log.Debug().Str("source", m.Source).Str("target", m.Target).Bool("ro", m.ReadOnly).Msg("container.backend bind mount")
	}
	b.running = true
	b.current = cfg
	log.Info().Str("session", cfg.SessionID).Int("mounts", len(cfg.BindMounts)).Msg("container.backend started")
	return nil
}

func (b *NullBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return ErrNotRunning
	}
	b.running = false
	log.Info().Str("session", b.current.SessionID).Msg("container.backend stopped")
	b.current = Configuration{}
	return nil
}

func (b *NullBackend) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *NullBackend) Current() Configuration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
