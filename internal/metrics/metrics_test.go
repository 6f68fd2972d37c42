package metrics

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/julienstroheker/framerelay/internal/logging"
)

func TestRegistry_ObserveFrame(t *testing.T) {
	r := NewRegistry()

	r.ObserveFrame(DirectionIn, 10)
	r.ObserveFrame(DirectionIn, 5)
	r.ObserveFrame(DirectionOut, 10)

	tests := []struct {
		name     string
		got      float64
		expected float64
	}{
		{"frames in", testutil.ToFloat64(r.frames.WithLabelValues(DirectionIn)), 2},
		{"frames out", testutil.ToFloat64(r.frames.WithLabelValues(DirectionOut)), 1},
		{"bytes in", testutil.ToFloat64(r.bytes.WithLabelValues(DirectionIn)), 15},
		{"bytes out", testutil.ToFloat64(r.bytes.WithLabelValues(DirectionOut)), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %v, got: %v", tt.expected, tt.got)
			}
		})
	}
}

func TestRegistry_ErrorsAndState(t *testing.T) {
	r := NewRegistry()

	r.ObserveError("receive")
	r.SetState(4)

	if got := testutil.ToFloat64(r.errors.WithLabelValues("receive")); got != 1 {
		t.Errorf("Expected 1 receive error, got: %v", got)
	}
	if got := testutil.ToFloat64(r.state); got != 4 {
		t.Errorf("Expected state 4, got: %v", got)
	}
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry

	r.ObserveFrame(DirectionIn, 1)
	r.ObserveError("send")
	r.SetState(1)
}

func TestServer_Lifecycle(t *testing.T) {
	reg := NewRegistry()
	reg.ObserveFrame(DirectionOut, 42)

	server := NewServer(&ServerOptions{Addr: "127.0.0.1:0", Registry: reg})
	if server.Addr() != nil {
		t.Error("Expected no address before Start")
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		_ = server.Close()
	}()

	base := "http://" + server.Addr().String()

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("Expected server to be running, got error: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, resp.StatusCode)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if !strings.Contains(string(body), `framerelay_bytes_total{direction="out"} 42`) {
		t.Errorf("Expected bytes counter in scrape, got: %s", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Expected clean shutdown, got: %v", err)
	}
}

// lockedBuffer is a log sink safe to read while the server may still write
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHealthHandler_MethodNotAllowed(t *testing.T) {
	out := &lockedBuffer{}
	logger := logging.NewWithOutput(logging.WarnLevel, out)

	server := NewServer(&ServerOptions{Addr: "127.0.0.1:0", Logger: logger})
	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		_ = server.Close()
	}()

	resp, err := http.Post("http://"+server.Addr().String()+"/healthz", "text/plain", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status code %d, got %d", http.StatusMethodNotAllowed, resp.StatusCode)
	}
	if !strings.Contains(out.String(), "Health check with unsupported method") {
		t.Errorf("Expected the handler to log through the request logger, got: %s", out.String())
	}
}
