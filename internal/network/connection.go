package network

import (
	"net"
	"sync"

	"github.com/danmuck/husk/internal/observability"
	"github.com/danmuck/husk/internal/runtime"
)

// SocketConnection wraps one accepted stream. Send writes a whole frame
// under a mutex so concurrent senders never interleave bytes on the wire.
type SocketConnection struct {
	conn    net.Conn
	channel string

	sendMu sync.Mutex

	closeOnce sync.Once
	closeErr  error

	rt      *runtime.Runtime
	trackID uint64
}

func NewSocketConnection(conn net.Conn, channel string, rt *runtime.Runtime) *SocketConnection {
	sc := &SocketConnection{conn: conn, channel: channel, rt: rt}
	if rt != nil {
		sc.trackID = rt.Track(sc)
	}
	observability.RecordConnectionOpened(channel)
	return sc
}

func (c *SocketConnection) Send(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := c.conn.Write(frame)
	return err
}

func (c *SocketConnection) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// Write adapts Send for stream consumers that expect an io.Writer.
func (c *SocketConnection) Write(p []byte) (int, error) {
	if err := c.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close releases the connection exactly once. Safe to call from the read
// loop, the runtime teardown, and the owner concurrently.
func (c *SocketConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		if c.rt != nil {
			c.rt.Untrack(c.trackID)
		}
		observability.RecordConnectionClosed(c.channel)
	})
	return c.closeErr
}

func (c *SocketConnection) Channel() string {
	return c.channel
}

func (c *SocketConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
