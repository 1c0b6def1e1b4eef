package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownMethod    = errors.New("bridge: unknown method")
	ErrMethodRegistered = errors.New("bridge: method already registered")
)

// Platform receives guest events surfaced over the bridge. Payload bytes
// are passed through unparsed.
type Platform interface {
	BootFinished()
	ClipboardChanged(data []byte)
	WindowStateChanged(data []byte)
}

// LogPlatform is the default Platform: it records events and does nothing
// else, keeping the bridge serviceable without a desktop integration.
type LogPlatform struct{}

func (LogPlatform) BootFinished() {
	log.Info().Msg("bridge.platform guest boot finished")
}

func (LogPlatform) ClipboardChanged(data []byte) {
	log.Debug().Int("bytes", len(data)).Msg("bridge.platform clipboard changed")
}

func (LogPlatform) WindowStateChanged(data []byte) {
	log.Debug().Int("bytes", len(data)).Msg("bridge.platform window state changed")
}

// MethodFunc serves one bridge method.
type MethodFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Skeleton is the host endpoint of the bridge channel: a method table the
// guest calls into as it boots and runs.
type Skeleton struct {
	mu      sync.RWMutex
	methods map[uint32]MethodFunc
}

func NewSkeleton(platform Platform) *Skeleton {
	if platform == nil {
		platform = LogPlatform{}
	}
	s := &Skeleton{methods: make(map[uint32]MethodFunc)}
	s.methods[MethodBootFinished] = func(ctx context.Context, payload []byte) ([]byte, error) {
		platform.BootFinished()
		return nil, nil
	}
	s.methods[MethodClipboard] = func(ctx context.Context, payload []byte) ([]byte, error) {
		platform.ClipboardChanged(payload)
		return nil, nil
	}
	s.methods[MethodWindowState] = func(ctx context.Context, payload []byte) ([]byte, error) {
		platform.WindowStateChanged(payload)
		return nil, nil
	}
	return s
}

// Register adds a method. Built-ins and duplicates cannot be replaced.
func (s *Skeleton) Register(method uint32, fn MethodFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.methods[method]; exists {
		return fmt.Errorf("%w: %d", ErrMethodRegistered, method)
	}
	s.methods[method] = fn
	return nil
}

func (s *Skeleton) HandleCall(ctx context.Context, method uint32, payload []byte) ([]byte, error) {
	s.mu.RLock()
	fn, ok := s.methods[method]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, method)
	}
	return fn(ctx, payload)
}
