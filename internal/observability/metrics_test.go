package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordConnectionOpened("bridge")
	RecordConnectionClosed("bridge")
	RecordCallStarted()
	RecordCallCompleted(false)
	RecordCallStarted()
	RecordCallCompleted(true)
	RecordStaleResponse()
	RecordFrame("request")
	RecordContainerStart(false)
}

func TestDebugServerServesHealthAndMetrics(t *testing.T) {
	d := NewDebugServer("127.0.0.1:0")
	if err := d.Start(); err != nil {
		t.Fatalf("start debug server: %v", err)
	}
	addr := d.Addr()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	}()

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp2, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp2.Body.Close()
	body, err := io.ReadAll(resp2.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "husk_rpc_calls_started_total") {
		t.Fatalf("metrics output missing husk instruments")
	}
}
