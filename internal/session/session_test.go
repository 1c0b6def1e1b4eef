package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/danmuck/husk/internal/config"
	"github.com/danmuck/husk/internal/container"
	"github.com/danmuck/husk/internal/runtime"
	"github.com/danmuck/husk/internal/testutil/testlog"
)

// testSystem builds a config whose required devices are plain files under
// the temp dir, so sessions can come up without kernel facilities.
func testSystem(t *testing.T) config.System {
	t.Helper()
	dir := t.TempDir()
	devDir := filepath.Join(dir, "dev")
	if err := os.MkdirAll(devDir, 0o700); err != nil {
		t.Fatalf("mkdir dev: %v", err)
	}
	devices := []string{filepath.Join(devDir, "binder"), filepath.Join(devDir, "ashmem")}
	for _, dev := range devices {
		if err := os.WriteFile(dev, nil, 0o600); err != nil {
			t.Fatalf("create device %s: %v", dev, err)
		}
	}

	sys := config.Default()
	sys.RuntimeDir = filepath.Join(dir, "run")
	sys.DataDir = filepath.Join(dir, "data")
	sys.RequiredDevices = devices
	sys.PassthroughDevices = devices
	sys.Workers = 8
	sys.ShutdownGrace = 2 * time.Second
	sys.ContainerDialAttempts = 5
	sys.ContainerDialBackoff = 10 * time.Millisecond
	return sys
}

func startManager(t *testing.T, sys config.System) *container.NullBackend {
	t.Helper()
	rt := runtime.New(8)
	if err := rt.Start(); err != nil {
		t.Fatalf("manager runtime start: %v", err)
	}
	if err := os.MkdirAll(sys.RuntimeDir, 0o700); err != nil {
		t.Fatalf("mkdir runtime dir: %v", err)
	}
	backend := container.NewNullBackend()
	svc := container.NewService(container.ServiceConfig{SocketPath: sys.ContainerSocketPath()}, backend, rt)
	if err := svc.Start(); err != nil {
		t.Fatalf("manager start: %v", err)
	}
	t.Cleanup(func() {
		svc.Stop()
		rt.Stop(2 * time.Second)
	})
	return backend
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTrapStopIsIdempotent(t *testing.T) {
	testlog.Start(t)
	trap := NewTrap()

	trap.Stop("first")
	trap.Stop("second")

	select {
	case <-trap.Done():
	default:
		t.Fatal("trap not done after stop")
	}
	if got := trap.Reason(); got != "first" {
		t.Fatalf("reason: got %q want %q", got, "first")
	}
}

func TestTrapCatchesSIGTERM(t *testing.T) {
	testlog.Start(t)
	trap := NewTrap()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("send SIGTERM: %v", err)
	}

	select {
	case <-trap.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("trap never fired on SIGTERM")
	}
	if got := trap.Reason(); !strings.Contains(got, "signal") {
		t.Fatalf("reason: got %q", got)
	}
}

func TestRunFailsOnMissingRequiredDevice(t *testing.T) {
	testlog.Start(t)
	sys := testSystem(t)
	sys.RequiredDevices = append(sys.RequiredDevices, filepath.Join(t.TempDir(), "no-such-device"))

	o := NewOrchestrator(OrchestratorConfig{System: sys})
	t.Cleanup(func() { o.Trap().Stop("test cleanup") })

	err := o.Run(context.Background())
	if err == nil {
		t.Fatal("run succeeded with a missing required device")
	}
	if !strings.Contains(err.Error(), "required device") {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := o.Phase(); got != PhaseStopped {
		t.Fatalf("phase after failure: %s", got)
	}
	// Nothing was published and no container was asked for.
	if _, statErr := os.Stat(sys.BridgeSocketPath()); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("bridge socket exists after validation failure: %v", statErr)
	}
	if _, statErr := os.Stat(sys.ContainerSocketPath()); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("container socket exists after validation failure: %v", statErr)
	}
}

func TestRunFailsWithoutContainerManager(t *testing.T) {
	testlog.Start(t)
	sys := testSystem(t)
	sys.ContainerDialAttempts = 2
	sys.ContainerDialBackoff = 5 * time.Millisecond

	o := NewOrchestrator(OrchestratorConfig{System: sys})
	t.Cleanup(func() { o.Trap().Stop("test cleanup") })

	err := o.Run(context.Background())
	if err == nil {
		t.Fatal("run succeeded with no container manager listening")
	}
	if !strings.Contains(err.Error(), "container manager") {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := o.Phase(); got != PhaseStopped {
		t.Fatalf("phase after failure: %s", got)
	}
	// The published sockets were unwound.
	if _, statErr := os.Stat(sys.BridgeSocketPath()); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("bridge socket left behind: %v", statErr)
	}
}

func TestRunCleanStopOnTrap(t *testing.T) {
	testlog.Start(t)
	sys := testSystem(t)
	backend := startManager(t, sys)

	o := NewOrchestrator(OrchestratorConfig{System: sys})
	t.Cleanup(func() { o.Trap().Stop("test cleanup") })

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	waitFor(t, func() bool { return o.Phase() == PhaseRunning }, "running phase")
	waitFor(t, backend.Running, "container started")

	st := o.Status()
	if st.SessionID == "" {
		t.Fatal("no session id while running")
	}
	if len(st.Sockets) != 3 {
		t.Fatalf("published sockets: got %d want 3", len(st.Sockets))
	}
	for _, path := range []string{sys.BridgeSocketPath(), sys.PipeSocketPath(), sys.AudioSocketPath()} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("socket %s: %v", path, err)
		}
	}
	if got := backend.Current().SessionID; got != st.SessionID {
		t.Fatalf("backend session %q, orchestrator session %q", got, st.SessionID)
	}

	o.Trap().Stop("operator request")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after stop")
	}

	if got := o.Phase(); got != PhaseStopped {
		t.Fatalf("phase after stop: %s", got)
	}
	for _, path := range []string{sys.BridgeSocketPath(), sys.PipeSocketPath(), sys.AudioSocketPath()} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("socket %s left behind: %v", path, err)
		}
	}

	// A second stop is harmless.
	o.Trap().Stop("late")
	if got := o.Trap().Reason(); got != "operator request" {
		t.Fatalf("reason overwritten: %q", got)
	}
}

func TestRunCleanStopOnSignal(t *testing.T) {
	testlog.Start(t)
	sys := testSystem(t)
	startManager(t, sys)

	o := NewOrchestrator(OrchestratorConfig{System: sys})
	t.Cleanup(func() { o.Trap().Stop("test cleanup") })

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	waitFor(t, func() bool { return o.Phase() == PhaseRunning }, "running phase")

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("send SIGTERM: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run after signal: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after SIGTERM")
	}
	if got := o.Trap().Reason(); !strings.Contains(got, "signal") {
		t.Fatalf("reason: %q", got)
	}
}

func TestRunStopsWhenContainerConnectionLost(t *testing.T) {
	testlog.Start(t)
	sys := testSystem(t)

	rt := runtime.New(8)
	if err := rt.Start(); err != nil {
		t.Fatalf("manager runtime start: %v", err)
	}
	t.Cleanup(func() { rt.Stop(2 * time.Second) })
	if err := os.MkdirAll(sys.RuntimeDir, 0o700); err != nil {
		t.Fatalf("mkdir runtime dir: %v", err)
	}
	svc := container.NewService(container.ServiceConfig{SocketPath: sys.ContainerSocketPath()}, container.NewNullBackend(), rt)
	if err := svc.Start(); err != nil {
		t.Fatalf("manager start: %v", err)
	}

	o := NewOrchestrator(OrchestratorConfig{System: sys})
	t.Cleanup(func() { o.Trap().Stop("test cleanup") })

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	waitFor(t, func() bool { return o.Phase() == PhaseRunning }, "running phase")

	// Manager goes away; the session must notice and shut down on its own.
	if err := svc.Stop(); err != nil {
		t.Fatalf("manager stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run after manager loss: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after manager loss")
	}
	if got := o.Trap().Reason(); !strings.Contains(got, "container") {
		t.Fatalf("reason: %q", got)
	}
}

func TestAdvanceRejectsOutOfOrderTransitions(t *testing.T) {
	testlog.Start(t)
	o := NewOrchestrator(OrchestratorConfig{System: testSystem(t)})
	t.Cleanup(func() { o.Trap().Stop("test cleanup") })

	if err := o.advance(PhaseValidating, PhasePublishing); !errors.Is(err, ErrLifecycleOrder) {
		t.Fatalf("out-of-order advance: got %v", err)
	}
	if err := o.advance(PhaseIdle, PhaseValidating); err != nil {
		t.Fatalf("first advance: %v", err)
	}
	if err := o.advance(PhaseIdle, PhaseValidating); !errors.Is(err, ErrLifecycleOrder) {
		t.Fatalf("repeated advance: got %v", err)
	}
	if got := o.Phase(); got != PhaseValidating {
		t.Fatalf("phase: %s", got)
	}
}
