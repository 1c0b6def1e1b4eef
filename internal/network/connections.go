package network

import (
	"io"
	"sync"
	"sync/atomic"
)

// Connections groups live connections owned by one creator so they can be
// torn down together when the creator's channel unwinds.
type Connections struct {
	mu     sync.Mutex
	nextID atomic.Uint64
	conns  map[uint64]io.Closer
}

func NewConnections() *Connections {
	return &Connections{conns: make(map[uint64]io.Closer)}
}

func (c *Connections) Add(conn io.Closer) uint64 {
	id := c.nextID.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[id] = conn
	return id
}

func (c *Connections) Remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, id)
}

func (c *Connections) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// CloseAll closes and forgets every grouped connection.
func (c *Connections) CloseAll() {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[uint64]io.Closer)
	c.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
