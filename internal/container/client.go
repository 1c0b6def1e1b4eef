package container

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/husk/internal/network"
	"github.com/danmuck/husk/internal/observability"
	"github.com/danmuck/husk/internal/rpc"
	"github.com/danmuck/husk/internal/runtime"
)

// ClientConfig controls how the session side reaches the manager.
type ClientConfig struct {
	SocketPath  string
	DialTimeout time.Duration
	// MaxAttempts bounds dial retries. Zero or negative retries forever.
	MaxAttempts int
	Backoff     BackoffConfig
}

func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:  socketPath,
		DialTimeout: 5 * time.Second,
		MaxAttempts: 5,
		Backoff:     DefaultBackoff(),
	}
}

// Client is the session side's proxy to the container manager. Losing the
// manager connection is fatal for the session: the registered terminate
// handler fires, at most once, whenever the connection ends outside Close.
type Client struct {
	cfg ClientConfig
	rt  *runtime.Runtime

	conn    *network.SocketConnection
	channel *rpc.Channel

	closing atomic.Bool

	mu        sync.Mutex
	terminate func()
	fired     bool
	invoked   bool

	rng *rand.Rand
}

// Dial connects to the manager socket, retrying with backoff while the
// manager comes up.
func Dial(ctx context.Context, cfg ClientConfig, rt *runtime.Runtime) (*Client, error) {
	c := &Client{
		cfg: cfg,
		rt:  rt,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	conn, err := c.dialRetry(ctx)
	if err != nil {
		return nil, err
	}

	sc := network.NewSocketConnection(conn, "container", rt)
	pending := rpc.NewPendingCallCache()
	c.conn = sc
	c.channel = rpc.NewChannel(sc, pending)

	proc := rpc.NewMessageProcessor(rpc.ProcessorConfig{
		Channel: "container",
		Reader:  bufio.NewReader(sc),
		Sender:  sc,
		Pending: pending,
		Runtime: rt,
	})
	rt.Go("container.client", func(ctx context.Context) {
		_ = proc.Run(ctx)
		_ = sc.Close()
		if !c.closing.Load() {
			log.Warn().Msg("container.client connection to manager lost")
			c.fireTerminate()
		}
	})

	log.Info().Str("path", cfg.SocketPath).Msg("container.client connected to manager")
	return c, nil
}

func (c *Client) dialRetry(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	var attempt int
	for {
		attempt++
		conn, err := dialer.DialContext(ctx, "unix", c.cfg.SocketPath)
		if err == nil {
			return conn, nil
		}
		log.Warn().Int("attempt", attempt).Str("path", c.cfg.SocketPath).Err(err).Msg("container.client dial failed")
		if !c.shouldRetry(attempt) {
			return nil, fmt.Errorf("container: dial manager: %w", err)
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RegisterTerminateHandler installs fn. If the connection already ended,
// fn runs immediately; either way it runs at most once.
func (c *Client) RegisterTerminateHandler(fn func()) {
	c.mu.Lock()
	c.terminate = fn
	fire := c.fired && !c.invoked
	if fire {
		c.invoked = true
	}
	c.mu.Unlock()
	if fire {
		fn()
	}
}

func (c *Client) fireTerminate() {
	c.mu.Lock()
	c.fired = true
	fn := c.terminate
	fire := fn != nil && !c.invoked
	if fire {
		c.invoked = true
	}
	c.mu.Unlock()
	if fire {
		fn()
	}
}

// StartContainer submits the assembled configuration. A failed start is
// fatal the same way a lost connection is.
func (c *Client) StartContainer(ctx context.Context, cfg Configuration) error {
	payload, err := cfg.Encode()
	if err != nil {
		return err
	}
	if _, err := c.channel.Call(ctx, MethodStartContainer, payload); err != nil {
		observability.RecordContainerStart(true)
		log.Error().Err(err).Msg("container.client start container failed")
		c.fireTerminate()
		return fmt.Errorf("container: start: %w", err)
	}
	observability.RecordContainerStart(false)
	log.Info().Str("session", cfg.SessionID).Msg("container.client container started")
	return nil
}

func (c *Client) StopContainer(ctx context.Context) error {
	if _, err := c.channel.Call(ctx, MethodStopContainer, nil); err != nil {
		return fmt.Errorf("container: stop: %w", err)
	}
	return nil
}

// Close ends the manager connection without firing the terminate handler.
func (c *Client) Close() error {
	c.closing.Store(true)
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
