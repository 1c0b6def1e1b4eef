package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyStarted = errors.New("runtime: already started")
	ErrNotStarted     = errors.New("runtime: not started")
	ErrStopped        = errors.New("runtime: stopped")
	ErrStopTimeout    = errors.New("runtime: loops did not drain before grace expired")
)

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Runtime owns the worker pool, the root context, and the set of resources
// that must not outlive the session. Connectors and connections register
// with it so Stop can unwind everything in one place.
type Runtime struct {
	workers int

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   state
	pool    *ants.Pool
	closers map[uint64]io.Closer

	nextCloserID atomic.Uint64
	loops        sync.WaitGroup
}

func New(workers int) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		closers: make(map[uint64]io.Closer),
	}
}

// Start brings up the worker pool. A Runtime starts at most once and is not
// reusable after Stop.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrStopped
	}
	pool, err := ants.NewPool(r.workers, ants.WithNonblocking(true))
	if err != nil {
		return fmt.Errorf("runtime: create pool: %w", err)
	}
	r.pool = pool
	r.state = stateRunning
	log.Debug().Int("workers", r.workers).Msg("runtime started")
	return nil
}

// Context is canceled when the Runtime stops. Long-lived loops watch it.
func (r *Runtime) Context() context.Context {
	return r.ctx
}

// Go launches a tracked long-lived loop. Stop waits for tracked loops to
// return, bounded by its grace period.
func (r *Runtime) Go(name string, loop func(ctx context.Context)) {
	r.loops.Add(1)
	go func() {
		defer r.loops.Done()
		log.Debug().Str("loop", name).Msg("runtime loop started")
		loop(r.ctx)
		log.Debug().Str("loop", name).Msg("runtime loop finished")
	}()
}

// Submit hands a short task to the worker pool.
func (r *Runtime) Submit(task func()) error {
	r.mu.Lock()
	pool := r.pool
	st := r.state
	r.mu.Unlock()

	switch st {
	case stateIdle:
		return ErrNotStarted
	case stateStopped:
		return ErrStopped
	}
	if err := pool.Submit(task); err != nil {
		return fmt.Errorf("runtime: submit: %w", err)
	}
	return nil
}

// Track registers a resource to be closed when the Runtime stops. The
// returned id releases the registration once the resource is closed by its
// owner.
func (r *Runtime) Track(c io.Closer) uint64 {
	id := r.nextCloserID.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateStopped {
		// Late registration: the session is unwinding, close immediately.
		go func() { _ = c.Close() }()
		return id
	}
	r.closers[id] = c
	return id
}

func (r *Runtime) Untrack(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.closers, id)
}

// Stop cancels the runtime context, closes every tracked resource, and
// waits up to grace for tracked loops to return. Closing the resources is
// what unblocks Accept and Read calls inside those loops. Stop is
// idempotent.
func (r *Runtime) Stop(grace time.Duration) error {
	r.mu.Lock()
	if r.state == stateStopped {
		r.mu.Unlock()
		return nil
	}
	r.state = stateStopped
	closers := r.closers
	r.closers = make(map[uint64]io.Closer)
	pool := r.pool
	r.pool = nil
	r.mu.Unlock()

	r.cancel()
	for id, c := range closers {
		if err := c.Close(); err != nil {
			log.Debug().Uint64("id", id).Err(err).Msg("runtime close tracked resource")
		}
	}

	var err error
	done := make(chan struct{})
	go func() {
		r.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		err = ErrStopTimeout
	}
	if pool != nil {
		pool.Release()
	}
	log.Debug().Err(err).Msg("runtime stopped")
	return err
}
