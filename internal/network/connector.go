package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/husk/internal/runtime"
)

// PublishedSocketConnector binds a unix socket, accepts connections on a
// runtime loop, and hands each one to its ConnectionCreator. The bound path
// is the artifact other components care about: it is what gets bind-mounted
// into the guest.
type PublishedSocketConnector struct {
	path    string
	channel string
	ln      net.Listener
	rt      *runtime.Runtime
	creator ConnectionCreator

	trackID   uint64
	closeOnce sync.Once
	closeErr  error
	fatal     chan error
}

// Publish removes any stale socket file at path, binds, and starts
// accepting. The socket stays private to the owning user.
func Publish(path, channel string, rt *runtime.Runtime, creator ConnectionCreator) (*PublishedSocketConnector, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("network: publish %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o660); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("network: chmod %s: %w", path, err)
	}

	c := &PublishedSocketConnector{
		path:    path,
		channel: channel,
		ln:      ln,
		rt:      rt,
		creator: creator,
		fatal:   make(chan error, 1),
	}
	c.trackID = rt.Track(c)
	rt.Go("network.accept "+channel, c.acceptLoop)
	log.Info().Str("channel", channel).Str("path", path).Msg("network.connector published")
	return c, nil
}

func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("network: remove stale socket %s: %w", path, err)
		}
	}
	return nil
}

func (c *PublishedSocketConnector) acceptLoop(ctx context.Context) {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warn().Str("channel", c.channel).Err(err).Msg("network.connector transient accept error")
				continue
			}
			log.Error().Str("channel", c.channel).Err(err).Msg("network.connector accept failed")
			select {
			case c.fatal <- err:
			default:
			}
			return
		}
		c.creator.CreateConnectionFor(conn)
	}
}

// SocketFile reports the bound socket path.
func (c *PublishedSocketConnector) SocketFile() string {
	return c.path
}

// Channel reports the purpose this socket serves.
func (c *PublishedSocketConnector) Channel() string {
	return c.channel
}

// Err delivers at most one fatal accept error.
func (c *PublishedSocketConnector) Err() <-chan error {
	return c.fatal
}

// Close stops accepting and removes the socket file. Idempotent.
func (c *PublishedSocketConnector) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ln.Close()
		if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
			log.Debug().Str("path", c.path).Err(err).Msg("network.connector remove socket file")
		}
		c.rt.Untrack(c.trackID)
		log.Info().Str("channel", c.channel).Str("path", c.path).Msg("network.connector closed")
	})
	return c.closeErr
}
