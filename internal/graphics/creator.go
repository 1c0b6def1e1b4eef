package graphics

import (
	"io"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/husk/internal/network"
	"github.com/danmuck/husk/internal/runtime"
)

// Renderer consumes the raw byte stream of one graphics connection. The
// protocol on the stream belongs to the renderer, not the transport.
type Renderer interface {
	Attach(stream io.ReadWriteCloser)
}

// DiscardRenderer drains attached streams and drops the bytes, keeping the
// pipe channel serviceable on hosts without a rendering stack.
type DiscardRenderer struct{}

func (DiscardRenderer) Attach(stream io.ReadWriteCloser) {
	go func() {
		n, _ := io.Copy(io.Discard, stream)
		log.Debug().Int64("bytes", n).Msg("graphics.discard stream drained")
		_ = stream.Close()
	}()
}

// PipeConnectionCreator hands accepted graphics connections straight to
// the renderer without interpreting the byte stream.
type PipeConnectionCreator struct {
	rt       *runtime.Runtime
	renderer Renderer
	conns    *network.Connections
}

func NewPipeConnectionCreator(rt *runtime.Runtime, renderer Renderer) *PipeConnectionCreator {
	if renderer == nil {
		renderer = DiscardRenderer{}
	}
	return &PipeConnectionCreator{
		rt:       rt,
		renderer: renderer,
		conns:    network.NewConnections(),
	}
}

func (c *PipeConnectionCreator) CreateConnectionFor(conn net.Conn) {
	sc := network.NewSocketConnection(conn, "pipe", c.rt)
	id := c.conns.Add(sc)
	c.renderer.Attach(&pipeStream{SocketConnection: sc, conns: c.conns, id: id})
}

// Close drops every graphics connection this creator produced.
func (c *PipeConnectionCreator) Close() error {
	c.conns.CloseAll()
	return nil
}

// pipeStream unregisters the connection when the renderer closes it, so
// finished streams do not accumulate in the registry.
type pipeStream struct {
	*network.SocketConnection
	conns *network.Connections
	id    uint64
}

func (s *pipeStream) Close() error {
	s.conns.Remove(s.id)
	return s.SocketConnection.Close()
}
