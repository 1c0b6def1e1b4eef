package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/husk/internal/testutil/testlog"
)

type closeRecorder struct {
	closed atomic.Bool
}

func (c *closeRecorder) Close() error {
	c.closed.Store(true)
	return nil
}

func TestStartTwiceFails(t *testing.T) {
	testlog.Start(t)
	rt := New(4)
	if err := rt.Start(); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer rt.Stop(time.Second)

	if err := rt.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start = %v, want ErrAlreadyStarted", err)
	}
}

func TestSubmitBeforeStartAndAfterStop(t *testing.T) {
	testlog.Start(t)
	rt := New(4)
	if err := rt.Submit(func() {}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("submit before start = %v, want ErrNotStarted", err)
	}

	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := rt.Submit(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("submit after stop = %v, want ErrStopped", err)
	}
	if err := rt.Start(); !errors.Is(err, ErrStopped) {
		t.Fatalf("restart after stop = %v, want ErrStopped", err)
	}
}

func TestSubmitRunsTask(t *testing.T) {
	testlog.Start(t)
	rt := New(4)
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rt.Stop(time.Second)

	done := make(chan struct{})
	if err := rt.Submit(func() { close(done) }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not run")
	}
}

func TestStopClosesTrackedResourcesAndCancelsContext(t *testing.T) {
	testlog.Start(t)
	rt := New(4)
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec := &closeRecorder{}
	rt.Track(rec)

	loopSawCancel := make(chan struct{})
	rt.Go("watch", func(ctx context.Context) {
		<-ctx.Done()
		close(loopSawCancel)
	})

	if err := rt.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !rec.closed.Load() {
		t.Fatalf("tracked resource not closed on stop")
	}
	select {
	case <-loopSawCancel:
	default:
		t.Fatalf("loop did not observe context cancellation")
	}
	// second stop is a no-op
	if err := rt.Stop(time.Second); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestUntrackedResourceIsNotClosed(t *testing.T) {
	testlog.Start(t)
	rt := New(4)
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec := &closeRecorder{}
	id := rt.Track(rec)
	rt.Untrack(id)

	if err := rt.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if rec.closed.Load() {
		t.Fatalf("untracked resource was closed by stop")
	}
}

func TestStopTimesOutOnStuckLoop(t *testing.T) {
	testlog.Start(t)
	rt := New(4)
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	release := make(chan struct{})
	rt.Go("stuck", func(ctx context.Context) {
		<-release
	})

	err := rt.Stop(50 * time.Millisecond)
	close(release)
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("stop = %v, want ErrStopTimeout", err)
	}
}

func TestDispatcherSwallowsSubmissionFailures(t *testing.T) {
	testlog.Start(t)
	rt := New(4)
	d := NewDispatcher(rt)

	// not started: the dispatch is dropped without panic or error
	d.Dispatch("early", func() { t.Errorf("task must not run before start") })

	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rt.Stop(time.Second)

	done := make(chan struct{})
	d.Dispatch("real", func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatched task did not run")
	}
}
