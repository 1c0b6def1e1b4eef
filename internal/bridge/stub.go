package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/husk/internal/rpc"
)

var ErrNotConnected = errors.New("bridge: no live guest connection")

// HostStub pushes host-originated calls into the guest over whichever
// bridge connection is currently live. At most one connection is live at a
// time; a reconnecting guest replaces the previous channel.
type HostStub struct {
	mu sync.Mutex
	ch *rpc.Channel
}

func NewHostStub() *HostStub {
	return &HostStub{}
}

func (s *HostStub) SetChannel(ch *rpc.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		log.Warn().Msg("bridge.stub replacing live guest channel")
	}
	s.ch = ch
}

// ClearChannel forgets ch if it is still the live channel. A stale clear
// from an old connection must not knock out a newer one.
func (s *HostStub) ClearChannel(ch *rpc.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == ch {
		s.ch = nil
	}
}

func (s *HostStub) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch != nil
}

// Push issues a call into the guest and waits for the reply.
func (s *HostStub) Push(ctx context.Context, method uint32, payload []byte) ([]byte, error) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return nil, ErrNotConnected
	}
	return ch.Call(ctx, method, payload)
}
