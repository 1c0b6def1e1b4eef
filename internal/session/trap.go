package session

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
)

// Trap turns SIGINT/SIGTERM and programmatic stop requests into one
// shutdown edge. Stop may be called from any goroutine any number of
// times; only the first caller's reason sticks.
type Trap struct {
	sigs chan os.Signal
	done chan struct{}

	once sync.Once

	mu     sync.Mutex
	reason string
}

func NewTrap() *Trap {
	t := &Trap{
		sigs: make(chan os.Signal, 2),
		done: make(chan struct{}),
	}
	signal.Notify(t.sigs, syscall.SIGINT, syscall.SIGTERM)
	go t.watch()
	return t
}

func (t *Trap) watch() {
	defer signal.Stop(t.sigs)
	select {
	case sig := <-t.sigs:
		log.Info().Str("signal", sig.String()).Msg("session.trap signal received")
		t.Stop("signal: " + sig.String())
	case <-t.done:
	}
}

// Stop requests shutdown. Safe to call concurrently with a signal
// arriving; later calls are ignored.
func (t *Trap) Stop(reason string) {
	t.once.Do(func() {
		t.mu.Lock()
		t.reason = reason
		t.mu.Unlock()
		log.Info().Str("reason", reason).Msg("session.trap stopping")
		close(t.done)
	})
}

// Done closes once Stop has been called or a trapped signal arrived.
func (t *Trap) Done() <-chan struct{} {
	return t.done
}

// Reason reports why the trap fired. Empty until Done closes.
func (t *Trap) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}
