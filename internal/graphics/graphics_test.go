package graphics

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/husk/internal/network"
	"github.com/danmuck/husk/internal/runtime"
	"github.com/danmuck/husk/internal/testutil/testlog"
)

type sinkRenderer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (r *sinkRenderer) Attach(stream io.ReadWriteCloser) {
	go func() {
		defer stream.Close()
		buf := make([]byte, 256)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				r.mu.Lock()
				r.buf.Write(buf[:n])
				r.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
}

func (r *sinkRenderer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func TestPipeCreatorAttachesStreamToRenderer(t *testing.T) {
	testlog.Start(t)
	rt := runtime.New(4)
	if err := rt.Start(); err != nil {
		t.Fatalf("runtime start: %v", err)
	}
	defer rt.Stop(2 * time.Second)

	renderer := &sinkRenderer{}
	creator := NewPipeConnectionCreator(rt, renderer)

	path := filepath.Join(t.TempDir(), "pipe.sock")
	connector, err := network.Publish(path, "pipe", rt, creator)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	defer connector.Close()

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte("gl-commands")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if renderer.String() == "gl-commands" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("renderer saw %q, want gl-commands", renderer.String())
}

func TestPipeCreatorReleasesClosedConnections(t *testing.T) {
	testlog.Start(t)
	rt := runtime.New(4)
	if err := rt.Start(); err != nil {
		t.Fatalf("runtime start: %v", err)
	}
	defer rt.Stop(2 * time.Second)

	renderer := &sinkRenderer{}
	creator := NewPipeConnectionCreator(rt, renderer)

	path := filepath.Join(t.TempDir(), "pipe.sock")
	connector, err := network.Publish(path, "pipe", rt, creator)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	defer connector.Close()

	const streams = 5
	for i := 0; i < streams; i++ {
		conn, err := net.Dial("unix", path)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		if _, err := conn.Write([]byte("frame")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		_ = conn.Close()
	}

	// All five streams attached once their payloads land in the sink.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(renderer.String()) == streams*len("frame") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(renderer.String()); got != streams*len("frame") {
		t.Fatalf("renderer saw %d bytes, want %d", got, streams*len("frame"))
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if creator.conns.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("registry holds %d connections after all streams closed, want 0", creator.conns.Len())
}

type closeTrackStream struct {
	net.Conn
	closed chan struct{}
	once   sync.Once
}

func (c *closeTrackStream) Close() error {
	c.once.Do(func() { close(c.closed) })
	return c.Conn.Close()
}

func TestDiscardRendererDrainsAndCloses(t *testing.T) {
	testlog.Start(t)
	left, right := net.Pipe()
	stream := &closeTrackStream{Conn: right, closed: make(chan struct{})}
	DiscardRenderer{}.Attach(stream)

	if _, err := left.Write([]byte("dropped")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = left.Close()

	select {
	case <-stream.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("discard renderer never closed its stream")
	}
}

func TestProbeDriverAt(t *testing.T) {
	testlog.Start(t)
	missing := filepath.Join(t.TempDir(), "nvidiactl")
	if d := ProbeDriverAt(missing); d != DriverTranslator {
		t.Fatalf("driver = %s, want translator", d)
	}

	present := filepath.Join(t.TempDir(), "nvidiactl")
	if err := os.WriteFile(present, nil, 0o600); err != nil {
		t.Fatalf("create probe file: %v", err)
	}
	if d := ProbeDriverAt(present); d != DriverHost {
		t.Fatalf("driver = %s, want host", d)
	}
}
