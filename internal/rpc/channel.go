package rpc

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/danmuck/husk/internal/observability"
)

// Sender delivers one encoded frame to the peer. Implementations must
// serialize concurrent sends so frames never interleave.
type Sender interface {
	Send(frame []byte) error
}

// Channel issues calls over one connection. Each call gets a fresh
// correlation id; the matching response, whenever it arrives, resolves the
// parked call through the pending cache.
type Channel struct {
	sender  Sender
	pending *PendingCallCache
	limits  Limits
	nextID  atomic.Uint64
}

func NewChannel(sender Sender, pending *PendingCallCache) *Channel {
	return &Channel{sender: sender, pending: pending, limits: DefaultLimits()}
}

// Go issues a call without waiting. The returned Call's Done channel
// receives exactly one Result. Send failures resolve the call immediately.
func (ch *Channel) Go(method uint32, payload []byte) *Call {
	id := ch.nextID.Add(1)
	call := newCall(id, method)
	if err := ch.pending.Register(call); err != nil {
		call.complete(Result{Err: err})
		return call
	}
	observability.RecordCallStarted()

	frame, err := EncodeMessage(Message{Kind: KindRequest, ID: id, Method: method, Payload: payload}, ch.limits)
	if err != nil {
		ch.pending.Complete(id, Result{Err: err})
		return call
	}
	if err := ch.sender.Send(frame); err != nil {
		ch.pending.Complete(id, Result{Err: fmt.Errorf("%w: %v", ErrConnectionLost, err)})
		return call
	}
	return call
}

// Call issues a call and waits for its result or ctx cancellation. On
// cancellation the pending entry resolves locally; a response arriving
// later is dropped as stale.
func (ch *Channel) Call(ctx context.Context, method uint32, payload []byte) ([]byte, error) {
	call := ch.Go(method, payload)
	select {
	case res := <-call.Done:
		return res.Payload, res.Err
	case <-ctx.Done():
		ch.pending.Complete(call.ID, Result{Err: ctx.Err()})
		res := <-call.Done
		return res.Payload, res.Err
	}
}

// Pending exposes the cache shared with the connection's processor.
func (ch *Channel) Pending() *PendingCallCache {
	return ch.pending
}
