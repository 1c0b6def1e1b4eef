package runtime

import (
	"github.com/rs/zerolog/log"
)

// Dispatcher is the fire-and-forget face of the Runtime. Callers that only
// need to kick off work without observing completion hold a Dispatcher
// instead of the full Runtime.
type Dispatcher struct {
	rt *Runtime
}

func NewDispatcher(rt *Runtime) *Dispatcher {
	return &Dispatcher{rt: rt}
}

// Dispatch submits task to the pool. Submission failures are logged, not
// returned; after Stop all dispatched work is dropped.
func (d *Dispatcher) Dispatch(name string, task func()) {
	if err := d.rt.Submit(task); err != nil {
		log.Warn().Str("task", name).Err(err).Msg("runtime.dispatcher dropped task")
	}
}
