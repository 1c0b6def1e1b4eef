package rpc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/husk/internal/observability"
)

var (
	ErrConnectionLost = errors.New("rpc: connection lost")
	ErrDuplicateCall  = errors.New("rpc: duplicate call id")
)

// Result is the outcome delivered to a waiting call: the peer's payload or
// a terminal error, never both.
type Result struct {
	Payload []byte
	Err     error
}

// Call is one in-flight request. Done receives exactly one Result no matter
// how the call ends: response, error frame, cancellation, or connection
// loss.
type Call struct {
	ID     uint64
	Method uint32
	Done   chan Result

	completed atomic.Bool
}

func newCall(id uint64, method uint32) *Call {
	return &Call{ID: id, Method: method, Done: make(chan Result, 1)}
}

func (c *Call) complete(res Result) bool {
	if !c.completed.CompareAndSwap(false, true) {
		return false
	}
	c.Done <- res
	return true
}

// PendingCallCache tracks calls awaiting responses, keyed by correlation
// id. Responses may arrive in any order; each entry resolves exactly once.
type PendingCallCache struct {
	mu    sync.Mutex
	calls map[uint64]*Call
}

func NewPendingCallCache() *PendingCallCache {
	return &PendingCallCache{calls: make(map[uint64]*Call)}
}

func (p *PendingCallCache) Register(c *Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.calls[c.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateCall, c.ID)
	}
	p.calls[c.ID] = c
	return nil
}

// Complete resolves the call registered under id and removes it. A miss
// means the call was already resolved or never existed; the response is
// dropped without affecting other calls.
func (p *PendingCallCache) Complete(id uint64, res Result) bool {
	p.mu.Lock()
	c, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	p.mu.Unlock()

	if !ok {
		observability.RecordStaleResponse()
		log.Debug().Uint64("id", id).Msg("rpc.pending response without a waiting call, dropped")
		return false
	}
	c.complete(res)
	observability.RecordCallCompleted(res.Err != nil)
	return true
}

// CancelAll resolves every outstanding call with err and empties the cache.
// Used when the underlying connection is gone.
func (p *PendingCallCache) CancelAll(err error) int {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[uint64]*Call)
	p.mu.Unlock()

	for _, c := range calls {
		if c.complete(Result{Err: err}) {
			observability.RecordCallCompleted(true)
		}
	}
	if len(calls) > 0 {
		log.Debug().Int("count", len(calls)).Err(err).Msg("rpc.pending canceled outstanding calls")
	}
	return len(calls)
}

func (p *PendingCallCache) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
