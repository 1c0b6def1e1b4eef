package network

import (
	"net"

	"github.com/rs/zerolog/log"
)

// ConnectionCreator gives a published socket its per-connection behavior.
// The connector calls CreateConnectionFor from the accept loop; the creator
// owns the connection from then on.
type ConnectionCreator interface {
	CreateConnectionFor(conn net.Conn)
}

// NullConnectionCreator serves channels whose protocol is not wired up.
// Connections are accepted and immediately closed so clients fail fast
// instead of hanging on an unserviced socket.
type NullConnectionCreator struct {
	channel string
}

func NewNullConnectionCreator(channel string) *NullConnectionCreator {
	return &NullConnectionCreator{channel: channel}
}

func (c *NullConnectionCreator) CreateConnectionFor(conn net.Conn) {
	log.Warn().Str("channel", c.channel).Msg("network.creator channel not implemented, closing connection")
	_ = conn.Close()
}
