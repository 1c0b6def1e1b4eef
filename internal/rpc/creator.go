package rpc

import (
	"bufio"
	"context"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/husk/internal/network"
	"github.com/danmuck/husk/internal/runtime"
)

// HandlerFactory builds the inbound-call handler for one accepted
// connection. The channel issues calls back to the same peer, so stubs get
// wired here.
type HandlerFactory func(ch *Channel) Handler

// CreatorConfig describes how an rpc ConnectionCreator assembles the
// per-connection stack.
type CreatorConfig struct {
	Channel string
	Runtime *runtime.Runtime
	Factory HandlerFactory
	// Gate vets a connection before any frame is read. A non-nil error
	// closes it on the spot.
	Gate func(conn net.Conn) error
	// OnDisconnect runs after the connection's processor exits.
	OnDisconnect func(*Channel)
	Limits       Limits
}

// ConnectionCreator builds a full rpc endpoint for every accepted
// connection: pending cache, channel, handler, and a processor read loop on
// the runtime.
type ConnectionCreator struct {
	cfg   CreatorConfig
	conns *network.Connections
}

func NewConnectionCreator(cfg CreatorConfig) *ConnectionCreator {
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = DefaultLimits()
	}
	return &ConnectionCreator{cfg: cfg, conns: network.NewConnections()}
}

func (c *ConnectionCreator) CreateConnectionFor(conn net.Conn) {
	if c.cfg.Gate != nil {
		if err := c.cfg.Gate(conn); err != nil {
			log.Warn().Str("channel", c.cfg.Channel).Err(err).Msg("rpc.creator connection rejected")
			_ = conn.Close()
			return
		}
	}
	sc := network.NewSocketConnection(conn, c.cfg.Channel, c.cfg.Runtime)
	id := c.conns.Add(sc)

	pending := NewPendingCallCache()
	channel := NewChannel(sc, pending)

	var handler Handler
	if c.cfg.Factory != nil {
		handler = c.cfg.Factory(channel)
	}

	proc := NewMessageProcessor(ProcessorConfig{
		Channel: c.cfg.Channel,
		Reader:  bufio.NewReader(sc),
		Sender:  sc,
		Pending: pending,
		Handler: handler,
		Runtime: c.cfg.Runtime,
		Limits:  c.cfg.Limits,
	})

	c.cfg.Runtime.Go("rpc.process "+c.cfg.Channel, func(ctx context.Context) {
		_ = proc.Run(ctx)
		c.conns.Remove(id)
		_ = sc.Close()
		if c.cfg.OnDisconnect != nil {
			c.cfg.OnDisconnect(channel)
		}
	})
}

// Connections exposes the live connections grouped under this creator.
func (c *ConnectionCreator) Connections() *network.Connections {
	return c.conns
}

// Close drops every connection this creator produced.
func (c *ConnectionCreator) Close() error {
	c.conns.CloseAll()
	return nil
}
