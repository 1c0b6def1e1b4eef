package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/husk/internal/observability"
	"github.com/danmuck/husk/internal/runtime"
)

// Handler executes inbound calls on a channel.
type Handler interface {
	HandleCall(ctx context.Context, method uint32, payload []byte) ([]byte, error)
}

type HandlerFunc func(ctx context.Context, method uint32, payload []byte) ([]byte, error)

func (f HandlerFunc) HandleCall(ctx context.Context, method uint32, payload []byte) ([]byte, error) {
	return f(ctx, method, payload)
}

// CallError is the decoded form of an error frame.
type CallError struct {
	Method uint32
	Text   string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc: remote error on method %d: %s", e.Method, e.Text)
}

// ProcessorConfig wires one MessageProcessor to its connection.
type ProcessorConfig struct {
	Channel string
	Reader  io.Reader
	Sender  Sender
	Pending *PendingCallCache
	// Handler serves inbound requests. Nil rejects every request with an
	// error frame.
	Handler Handler
	// Runtime runs handlers on the worker pool. Nil runs them inline on
	// the read loop.
	Runtime *runtime.Runtime
	Limits  Limits
}

// MessageProcessor drives one connection: replies resolve pending calls by
// correlation id, requests run through the handler and produce exactly one
// reply frame each.
type MessageProcessor struct {
	channel string
	r       io.Reader
	sender  Sender
	pending *PendingCallCache
	handler Handler
	rt      *runtime.Runtime
	limits  Limits
}

func NewMessageProcessor(cfg ProcessorConfig) *MessageProcessor {
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = DefaultLimits()
	}
	return &MessageProcessor{
		channel: cfg.Channel,
		r:       cfg.Reader,
		sender:  cfg.Sender,
		pending: cfg.Pending,
		handler: cfg.Handler,
		rt:      cfg.Runtime,
		limits:  cfg.Limits,
	}
}

// Run reads frames until the connection ends. Every exit path cancels the
// outstanding calls, so callers parked on this connection never hang.
func (p *MessageProcessor) Run(ctx context.Context) error {
	defer p.pending.CancelAll(ErrConnectionLost)

	for {
		msg, err := ReadMessage(p.r, p.limits)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || ctx.Err() != nil {
				log.Debug().Str("channel", p.channel).Msg("rpc.processor connection closed")
				return nil
			}
			log.Warn().Str("channel", p.channel).Err(err).Msg("rpc.processor read failed")
			return err
		}
		observability.RecordFrame(msg.Kind.String())

		if msg.IsReply() {
			res := Result{Payload: msg.Payload}
			if msg.Kind == KindError {
				res = Result{Err: &CallError{Method: msg.Method, Text: string(msg.Payload)}}
			}
			p.pending.Complete(msg.ID, res)
			continue
		}
		p.dispatch(ctx, msg)
	}
}

func (p *MessageProcessor) dispatch(ctx context.Context, msg Message) {
	task := func() {
		reply := Message{ID: msg.ID, Method: msg.Method}
		out, err := p.serve(ctx, msg)
		if err != nil {
			reply.Kind = KindError
			reply.Payload = []byte(err.Error())
		} else {
			reply.Kind = KindResponse
			reply.Payload = out
		}
		p.reply(reply)
	}

	if p.rt == nil {
		task()
		return
	}
	if err := p.rt.Submit(task); err != nil {
		log.Warn().Str("channel", p.channel).Uint64("id", msg.ID).Err(err).Msg("rpc.processor handler submission failed")
		p.reply(Message{Kind: KindError, ID: msg.ID, Method: msg.Method, Payload: []byte("service unavailable")})
	}
}

func (p *MessageProcessor) serve(ctx context.Context, msg Message) ([]byte, error) {
	if p.handler == nil {
		return nil, errors.New("no handler on this channel")
	}
	return p.handler.HandleCall(ctx, msg.Method, msg.Payload)
}

func (p *MessageProcessor) reply(msg Message) {
	frame, err := EncodeMessage(msg, p.limits)
	if err != nil {
		log.Warn().Str("channel", p.channel).Uint64("id", msg.ID).Err(err).Msg("rpc.processor encode reply failed")
		return
	}
	if err := p.sender.Send(frame); err != nil {
		log.Debug().Str("channel", p.channel).Uint64("id", msg.ID).Err(err).Msg("rpc.processor reply send failed")
	}
}
